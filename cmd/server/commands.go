package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/codebuildervaibhav/voice-id/internal/logger"
	"github.com/codebuildervaibhav/voice-id/internal/service"
	"github.com/codebuildervaibhav/voice-id/internal/storage"
	"github.com/codebuildervaibhav/voice-id/internal/voiceprint"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg.Redacted())
		},
	}
}

func newEmbedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed <audio-file>",
		Short: "Print the voiceprint of an audio file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.NewWithWriter(cfg.Log, os.Stderr)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			normalizer, err := newNormalizer(cfg, log)
			if err != nil {
				return err
			}
			extractor, err := voiceprint.New(cfg.Model)
			if err != nil {
				return fmt.Errorf("failed to load embedding model: %w", err)
			}
			defer closeLogged(log, "embedding model", extractor)

			// Voiceprint only touches the normalizer and the model.
			svc := service.New(service.Options{
				Normalizer:  normalizer,
				Extractor:   extractor,
				MinDuration: cfg.Model.MinDurationValue(),
				Logger:      log,
			})
			vec, err := svc.Voiceprint(cmd.Context(), data)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(map[string]any{
				"file":      args[0],
				"dimension": len(vec),
				"embedding": vec,
			})
		},
	}
}

func newSpeakersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speakers",
		Short: "Manage enrolled speakers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List enrolled speakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openSpeakerService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			speakers, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SPEAKER ID\tDISPLAY NAME\tCREATED AT")
			for _, s := range speakers {
				name, created := "-", "-"
				if s.DisplayName != nil {
					name = *s.DisplayName
				}
				if s.CreatedAt != nil {
					created = s.CreatedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.SpeakerID, name, created)
			}
			return w.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <speaker-id>",
		Short: "Delete an enrolled speaker and any archived clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openSpeakerService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted speaker %s\n", args[0])
			return nil
		},
	})
	return cmd
}

// openSpeakerService opens the store and archive without loading the model.
func openSpeakerService(cmd *cobra.Command) (*service.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewWithWriter(cfg.Log, os.Stderr)

	store, err := storage.Open(cmd.Context(), cfg.Store, cfg.Model.Dimension, log)
	if err != nil {
		return nil, nil, err
	}
	archive, err := storage.NewArchive(cmd.Context(), cfg.Archive, log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	svc := service.New(service.Options{Store: store, Archive: archive, Logger: log})
	return svc, func() { closeLogged(log, "speaker store", store) }, nil
}
