// Command voice-id runs the speaker identification API and provides a few
// maintenance commands against the same configuration.
//
// Usage:
//
//	voice-id [--config file] <command>
//
// Commands:
//
//	serve            - Start the HTTP / WebSocket server
//	config           - Print the effective configuration
//	embed <file>     - Print the voiceprint of an audio file
//	speakers list    - List enrolled speakers
//	speakers delete  - Delete an enrolled speaker
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voice-id",
		Short:         "Speaker enrollment and identification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: config/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default: .env when present)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newEmbedCmd())
	root.AddCommand(newSpeakersCmd())
	return root
}
