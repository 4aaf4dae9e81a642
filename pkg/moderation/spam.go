package moderation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-labs/vigil/pkg/patterns"
)

// Spam scoring constants. Each matched indicator contributes its registry
// weight (0.3 per indicator); repeated content inside the window adds 0.4;
// a semantic-similarity hit adds 0.3; a finding is emitted only when the
// combined score clears 0.5.
const (
	spamDuplicateStep      = 0.4
	spamThreshold          = 0.5
	spamDuplicateMinCount  = 3 // third occurrence within the window
	spamSimilarityStep     = 0.3
	DefaultDuplicateWindow = time.Hour
)

// SimilarityIndex reports how close content is to known spam phrasing.
// Implementations may be unavailable (no embedder configured); the detector
// treats a nil or not-ready index as a zero contribution.
type SimilarityIndex interface {
	Ready() bool
	// Similarity returns the best cosine similarity in [0,1] against the
	// indexed spam corpus.
	Similarity(ctx context.Context, content string) (float64, error)
}

// SpamDetector combines three signals: known spam indicator phrases,
// repeated identical content from the same author, and (optionally)
// embedding similarity to an indexed spam corpus.
type SpamDetector struct {
	registry *patterns.Registry
	history  HistoryStore
	index    SimilarityIndex
	window   time.Duration
	log      *zap.Logger
}

// NewSpamDetector creates the detector. history may be nil (duplicate
// checking disabled) and index may be nil (similarity disabled).
func NewSpamDetector(history HistoryStore, index SimilarityIndex, window time.Duration, log *zap.Logger) *SpamDetector {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SpamDetector{
		registry: patterns.Get(),
		history:  history,
		index:    index,
		window:   window,
		log:      log,
	}
}

// Name implements Detector.
func (d *SpamDetector) Name() string { return "spam" }

// Detect implements Detector.
func (d *SpamDetector) Detect(ctx context.Context, in Input) ([]Finding, error) {
	score := 0.0
	ev := Evidence{Category: "spam"}

	for _, p := range d.registry.MatchAll(in.Content, patterns.CategorySpam) {
		score += float64(p.Weight) / 100
		ev.Matches = append(ev.Matches, p.Name)
	}

	if d.history != nil && in.AuthorID != "" {
		count, err := d.history.RecordContent(ctx, in.AuthorID, in.Content, d.window)
		if err != nil {
			// History is a scoring signal, not a gate. Degrade to
			// indicator-only scoring rather than failing the run.
			d.log.Warn("duplicate check unavailable", zap.Error(err))
		} else if count >= spamDuplicateMinCount {
			score += spamDuplicateStep
			ev.Detail = fmt.Sprintf("content repeated %d times within %s", count, d.window)
		}
	}

	if d.index != nil && d.index.Ready() {
		sim, err := d.index.Similarity(ctx, in.Content)
		if err != nil {
			d.log.Warn("similarity check unavailable", zap.Error(err))
		} else if sim >= similarityThreshold {
			score += spamSimilarityStep
			ev.Matches = append(ev.Matches, fmt.Sprintf("similar_corpus_phrase:%.2f", sim))
		}
	}

	if score <= spamThreshold {
		return nil, nil
	}

	confidence := score
	if confidence > 1 {
		confidence = 1
	}
	return []Finding{{
		Kind:       FindingSpam,
		Severity:   SeverityMedium,
		Confidence: confidence,
		Evidence:   ev,
	}}, nil
}
