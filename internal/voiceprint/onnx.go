package voiceprint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Input layouts understood by ONNXExtractor.
const (
	InputFbank    = "fbank"    // [1, T, NumMels] log-mel features
	InputWaveform = "waveform" // [1, N] raw samples
)

// ONNXConfig describes an exported speaker-embedding model.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string // onnxruntime shared library; empty uses the platform default
	Dimension   int
	InputKind   string
	InputName   string
	OutputName  string
	OutputShape []int64
	Fbank       FbankConfig
}

// ONNXExtractor runs an ONNX speaker-embedding model (e.g. ECAPA-TDNN)
// through ONNX Runtime. Session.Run is thread-safe, so Extract does not
// serialise callers.
type ONNXExtractor struct {
	cfg     ONNXConfig
	fbank   *Fbank
	session *ort.DynamicAdvancedSession

	mu     sync.RWMutex
	closed bool
	ownEnv bool
}

// NewONNXExtractor initialises the runtime (once per process) and loads the model.
func NewONNXExtractor(cfg ONNXConfig) (*ONNXExtractor, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("voiceprint: model path is required")
	}
	if cfg.InputKind == "" {
		cfg.InputKind = InputFbank
	}
	if cfg.InputKind != InputFbank && cfg.InputKind != InputWaveform {
		return nil, fmt.Errorf("voiceprint: unknown input kind %q", cfg.InputKind)
	}
	if cfg.Fbank.NumMels == 0 {
		cfg.Fbank = DefaultFbankConfig()
	}
	if len(cfg.OutputShape) == 0 {
		cfg.OutputShape = []int64{1, int64(cfg.Dimension)}
	}

	ownEnv := false
	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("voiceprint: init onnxruntime: %w", err)
		}
		ownEnv = true
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		if ownEnv {
			ort.DestroyEnvironment()
		}
		return nil, fmt.Errorf("voiceprint: load model %s: %w", cfg.ModelPath, err)
	}

	return &ONNXExtractor{
		cfg:     cfg,
		fbank:   NewFbank(cfg.Fbank),
		session: session,
		ownEnv:  ownEnv,
	}, nil
}

// Extract implements Extractor.
func (e *ONNXExtractor) Extract(ctx context.Context, samples []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	shape, data, err := e.features(samples)
	if err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(e.cfg.OutputShape...))
	if err != nil {
		return nil, fmt.Errorf("voiceprint: output tensor: %w", err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("voiceprint: inference: %w", err)
	}

	raw := output.GetData()
	vec := make([]float32, len(raw))
	copy(vec, raw)
	if err := checkEmbedding(vec, e.cfg.Dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *ONNXExtractor) features(samples []float32) (ort.Shape, []float32, error) {
	switch e.cfg.InputKind {
	case InputWaveform:
		data := make([]float32, len(samples))
		copy(data, samples)
		return ort.NewShape(1, int64(len(samples))), data, nil
	default:
		feats := e.fbank.Extract(samples)
		if len(feats) == 0 {
			return nil, nil, ErrTooShort
		}
		SubtractMean(feats)
		return ort.NewShape(1, int64(len(feats)), int64(e.fbank.NumMels())), Flatten(feats), nil
	}
}

// Dimension implements Extractor.
func (e *ONNXExtractor) Dimension() int {
	return e.cfg.Dimension
}

// Loaded implements Extractor.
func (e *ONNXExtractor) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close destroys the session, and the runtime environment if this
// extractor created it.
func (e *ONNXExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.session.Destroy()
	if e.ownEnv {
		if envErr := ort.DestroyEnvironment(); envErr != nil && err == nil {
			err = envErr
		}
	}
	return err
}
