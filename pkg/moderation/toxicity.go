package moderation

import (
	"context"
	"fmt"
)

// Toxicity thresholds. A score above the emit threshold produces a finding;
// above the critical threshold the finding is critical, otherwise high.
const (
	toxicityEmitThreshold     = 0.7
	toxicityCriticalThreshold = 0.9
)

// ToxicityScorer scores how toxic a piece of text is, in [0,1].
// Implementations must be safe for concurrent use. A scorer that is not
// Ready is skipped without penalizing the case.
type ToxicityScorer interface {
	Score(ctx context.Context, text string) (float64, error)
	Ready() bool
}

// ToxicityDetector adapts a ToxicityScorer to the detector contract.
type ToxicityDetector struct {
	scorer ToxicityScorer
}

// NewToxicityDetector wraps a scorer. Returns nil when the scorer is nil so
// callers can register the result unconditionally.
func NewToxicityDetector(scorer ToxicityScorer) *ToxicityDetector {
	if scorer == nil {
		return nil
	}
	return &ToxicityDetector{scorer: scorer}
}

// Name implements Detector.
func (d *ToxicityDetector) Name() string { return "toxicity" }

// Detect implements Detector.
func (d *ToxicityDetector) Detect(ctx context.Context, in Input) ([]Finding, error) {
	if !d.scorer.Ready() {
		return nil, nil
	}

	score, err := d.scorer.Score(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("toxicity scoring: %w", err)
	}
	if score <= toxicityEmitThreshold {
		return nil, nil
	}

	severity := SeverityHigh
	if score > toxicityCriticalThreshold {
		severity = SeverityCritical
	}
	return []Finding{{
		Kind:       FindingInappropriateContent,
		Severity:   severity,
		Confidence: score,
		Evidence: Evidence{
			Category: "toxicity",
			Detail:   fmt.Sprintf("model score %.3f", score),
		},
	}}, nil
}
