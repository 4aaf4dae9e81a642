package moderation

// hugot.go - Local ONNX toxicity classification via Hugot.
//
// Scores run fully local with no external API calls. If neither the ONNX
// Runtime library nor a model directory is available the scorer degrades
// gracefully: Ready() reports false and the detector is skipped.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	"go.uber.org/zap"
)

// HugotScorerConfig configures the local toxicity model.
type HugotScorerConfig struct {
	// ModelPath is the local path to the ONNX model directory.
	ModelPath string

	// OnnxLibraryPath is the path to libonnxruntime.so. Empty selects the
	// pure Go backend (slower, no native dependency).
	OnnxLibraryPath string

	// Timeout bounds a single inference call.
	Timeout time.Duration
}

// DefaultHugotScorerConfig looks for a model in the conventional location
// and probes the usual ONNX Runtime install paths.
func DefaultHugotScorerConfig() HugotScorerConfig {
	return HugotScorerConfig{
		ModelPath:       "./models/toxicity",
		OnnxLibraryPath: defaultOnnxPath(),
		Timeout:         30 * time.Second,
	}
}

func defaultOnnxPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// HugotScorer classifies text toxicity with a local ONNX model.
type HugotScorer struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	config   HugotScorerConfig
	ready    bool
	log      *zap.Logger
}

// NewHugotScorer initializes the model. Initialization failure returns an
// error; use NewHugotScorerWithFallback when degraded operation is wanted.
func NewHugotScorer(cfg HugotScorerConfig, log *zap.Logger) (*HugotScorer, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &HugotScorer{config: cfg, log: log}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("hugot initialization failed: %w", err)
	}
	return s, nil
}

// NewHugotScorerWithFallback returns a scorer even when initialization
// fails; the returned scorer simply reports not ready.
func NewHugotScorerWithFallback(cfg HugotScorerConfig, log *zap.Logger) *HugotScorer {
	s, err := NewHugotScorer(cfg, log)
	if err != nil {
		if log == nil {
			log = zap.NewNop()
		}
		log.Warn("toxicity scorer unavailable, continuing without it", zap.Error(err))
		return &HugotScorer{config: cfg, log: log}
	}
	return s
}

func (s *HugotScorer) initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.ModelPath == "" {
		return fmt.Errorf("no model path configured")
	}
	if _, err := os.Stat(filepath.Join(s.config.ModelPath, "model.onnx")); err != nil {
		return fmt.Errorf("model not found at %s: %w", s.config.ModelPath, err)
	}

	session, err := s.createSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	s.session = session

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: s.config.ModelPath,
		Name:      "toxicity-classifier",
	})
	if err != nil {
		_ = s.session.Destroy()
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	s.pipeline = pipeline
	s.ready = true
	s.log.Info("toxicity scorer initialized", zap.String("model", s.config.ModelPath))
	return nil
}

// createSession prefers the ONNX Runtime backend and falls back to the pure
// Go backend when the native library is unavailable.
func (s *HugotScorer) createSession() (*hugot.Session, error) {
	if s.config.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(
			options.WithOnnxLibraryPath(s.config.OnnxLibraryPath),
		)
		if err == nil {
			return session, nil
		}
		s.log.Warn("ONNX Runtime unavailable, falling back to Go backend", zap.Error(err))
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Go session: %w", err)
	}
	return session, nil
}

// Ready implements ToxicityScorer.
func (s *HugotScorer) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// toxicLabel reports whether a classification label indicates toxicity.
// Conventions vary by model: "toxic"/"TOXIC" for toxicity fine-tunes,
// "LABEL_1" for generic binary classifiers.
func toxicLabel(label string) bool {
	switch label {
	case "toxic", "TOXIC", "LABEL_1":
		return true
	default:
		return false
	}
}

// Score implements ToxicityScorer. The model's confidence in the toxic
// label is returned directly; a benign classification scores as the
// complement so the result is always "probability of toxic".
func (s *HugotScorer) Score(ctx context.Context, text string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready || s.pipeline == nil {
		return 0, fmt.Errorf("toxicity scorer not ready")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	result, err := s.pipeline.RunPipeline([]string{text})
	if err != nil {
		return 0, fmt.Errorf("classification failed: %w", err)
	}
	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return 0, fmt.Errorf("classifier returned no output")
	}

	out := result.ClassificationOutputs[0][0]
	score := float64(out.Score)
	if !toxicLabel(out.Label) {
		score = 1 - score
	}
	return score, nil
}

// Close releases the ONNX session.
func (s *HugotScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		s.ready = false
		return err
	}
	return nil
}
