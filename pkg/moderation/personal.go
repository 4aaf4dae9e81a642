package moderation

import (
	"context"

	"github.com/vigilant-labs/vigil/pkg/patterns"
)

// PersonalInfoDetector flags phone numbers, email addresses, national
// identity numbers and payment card numbers. One finding is emitted per
// category that matched, carrying the matched substrings as evidence.
type PersonalInfoDetector struct {
	registry *patterns.Registry
}

// NewPersonalInfoDetector creates a detector over the shared pattern registry.
func NewPersonalInfoDetector() *PersonalInfoDetector {
	return &PersonalInfoDetector{registry: patterns.Get()}
}

// Name implements Detector.
func (d *PersonalInfoDetector) Name() string { return "personal_info" }

// Detect implements Detector. Personal information findings are always
// severity medium with confidence 0.8: the patterns are precise enough to
// warrant filtering but not to block outright.
func (d *PersonalInfoDetector) Detect(ctx context.Context, in Input) ([]Finding, error) {
	var findings []Finding
	for _, cat := range patterns.PersonalInfoCategories() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches := d.registry.FindAll(in.Content, cat)
		if len(matches) == 0 {
			continue
		}
		findings = append(findings, Finding{
			Kind:       FindingPersonalInfo,
			Severity:   SeverityMedium,
			Confidence: 0.8,
			Evidence: Evidence{
				Matches:  matches,
				Category: string(cat),
			},
		})
	}
	return findings, nil
}
