package moderation

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-labs/vigil/pkg/telemetry"
)

// Input is what detectors see for one submission.
type Input struct {
	Content     string
	ContentType ContentType
	AuthorID    string
	Metadata    map[string]string // Transport context: ip, user_agent, session
}

// Detector inspects content and reports zero or more findings.
// Implementations must be safe for concurrent use and must respect ctx.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in Input) ([]Finding, error)
}

// DefaultDetectorTimeout bounds a single detector run when the pipeline is
// built without an explicit budget.
const DefaultDetectorTimeout = 2 * time.Second

// Pipeline fans a submission out to every registered detector and collects
// the combined findings. A detector that errors or overruns its budget does
// not sink the run: it contributes a synthetic failure finding instead,
// which biases the case toward human review.
type Pipeline struct {
	mu        sync.RWMutex
	detectors []Detector
	timeout   time.Duration
	log       *zap.Logger
}

// NewPipeline creates an empty pipeline. A zero timeout selects
// DefaultDetectorTimeout.
func NewPipeline(timeout time.Duration, log *zap.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultDetectorTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{timeout: timeout, log: log}
}

// Register adds a detector. Nil detectors are ignored so callers can pass
// optionally-constructed components directly; a nil pointer inside the
// interface counts as nil too.
func (p *Pipeline) Register(d Detector) {
	if d == nil {
		return
	}
	if v := reflect.ValueOf(d); v.Kind() == reflect.Pointer && v.IsNil() {
		return
	}
	p.mu.Lock()
	p.detectors = append(p.detectors, d)
	p.mu.Unlock()
}

// Detectors returns the names of all registered detectors.
func (p *Pipeline) Detectors() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.detectors))
	for i, d := range p.detectors {
		names[i] = d.Name()
	}
	return names
}

// Run executes every detector concurrently and waits for all of them.
// The returned findings are grouped by detector registration order so
// repeated runs over the same input produce stable output.
func (p *Pipeline) Run(ctx context.Context, in Input) []Finding {
	p.mu.RLock()
	detectors := make([]Detector, len(p.detectors))
	copy(detectors, p.detectors)
	p.mu.RUnlock()

	if len(detectors) == 0 {
		return nil
	}

	results := make([][]Finding, len(detectors))
	var wg sync.WaitGroup

	for i, d := range detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			results[i] = p.runOne(ctx, d, in)
		}(i, d)
	}
	wg.Wait()

	var findings []Finding
	for _, r := range results {
		findings = append(findings, r...)
	}
	return findings
}

// runOne executes a single detector under the pipeline budget, converting
// panics, errors and timeouts into a synthetic failure finding. The wait is
// bounded even when the detector ignores its context: at the deadline the
// run is abandoned and its goroutine left to finish on its own.
func (p *Pipeline) runOne(ctx context.Context, d Detector, in Input) []Finding {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type outcome struct {
		findings []Finding
		err      error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("detector panic: %v", r)}
			}
		}()
		fs, err := d.Detect(runCtx, in)
		done <- outcome{findings: fs, err: err}
	}()

	var findings []Finding
	var err error
	select {
	case o := <-done:
		findings, err = o.findings, o.err
		if err == nil && runCtx.Err() != nil {
			err = runCtx.Err()
		}
	case <-runCtx.Done():
		err = runCtx.Err()
	}
	telemetry.DetectorDuration.WithLabelValues(d.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.DetectorFailures.WithLabelValues(d.Name()).Inc()
		p.log.Warn("detector failed",
			zap.String("detector", d.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return []Finding{systemErrorFinding(d.Name(), err)}
	}

	for i := range findings {
		if findings[i].Detector == "" {
			findings[i].Detector = d.Name()
		}
		telemetry.FindingsEmitted.WithLabelValues(string(findings[i].Kind)).Inc()
	}
	return findings
}

// systemErrorFinding is the fail-closed marker for a broken detector run.
// It stays inside the finding-kind enum: the failure is a custom finding
// carrying the system evidence category.
func systemErrorFinding(detector string, err error) Finding {
	return Finding{
		Kind:       FindingCustom,
		Severity:   SeverityMedium,
		Confidence: 0.5,
		Detector:   detector,
		Evidence: Evidence{
			Category: systemCategory,
			Detail:   err.Error(),
		},
	}
}
