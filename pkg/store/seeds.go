package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vigilant-labs/vigil/pkg/moderation"
	"github.com/vigilant-labs/vigil/pkg/threat"
)

// Seed files are optional; a missing file just means nothing to seed for
// that concern. Filenames under the seed directory:
const (
	termSeedFile       = "terms.yaml"
	ruleSeedFile       = "rules.yaml"
	reputationSeedFile = "reputation.yaml"
	spamPhraseSeedFile = "spam_phrases.yaml"
)

type termSeed struct {
	Pattern     string `yaml:"pattern"`
	IsRegex     bool   `yaml:"is_regex"`
	Category    string `yaml:"category"`
	Severity    string `yaml:"severity"`
	Action      string `yaml:"action"`
	Replacement string `yaml:"replacement"`
	Language    string `yaml:"language"`
}

type ruleSeed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Priority    int      `yaml:"priority"`
	Actions     []string `yaml:"actions"`

	TimeWindow     string   `yaml:"time_window"` // Go duration string, e.g. "5m"
	ThresholdCount int      `yaml:"threshold_count"`
	IPAddresses    []string `yaml:"ip_addresses"`
	Methods        []string `yaml:"methods"`
	PathPatterns   []string `yaml:"path_patterns"`
	UserAgents     []string `yaml:"user_agents"`
	AllowCountries []string `yaml:"allow_countries"`
	DenyCountries  []string `yaml:"deny_countries"`
	RequiredFlags  []string `yaml:"required_flags"`
}

type reputationSeed struct {
	Address     string `yaml:"address"` // single IP or CIDR
	ThreatLevel string `yaml:"threat_level"`
	Source      string `yaml:"source"`
	Reason      string `yaml:"reason"`
	TTL         string `yaml:"ttl"` // Go duration string; empty = permanent
}

func readSeedFile(dir, name string, out any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parsing %s: %w", name, err)
	}
	return true, nil
}

// LoadSpamPhrases reads the spam phrase corpus used to seed the
// similarity index. Returns nil when the file is absent.
func LoadSpamPhrases(dir string) ([]moderation.SpamPhrase, error) {
	if dir == "" {
		return nil, nil
	}
	var phrases []moderation.SpamPhrase
	ok, err := readSeedFile(dir, spamPhraseSeedFile, &phrases)
	if err != nil || !ok {
		return nil, err
	}
	return phrases, nil
}

// Seeder populates empty stores from YAML files at startup. Seeding is
// skipped for any store that already has data, so restarts do not
// duplicate entries.
type Seeder struct {
	terms      moderation.TermStore
	rules      threat.RuleStore
	reputation threat.ReputationStore
	log        *zap.Logger
}

// NewSeeder wires a seeder. Any store may be nil to skip that concern.
func NewSeeder(terms moderation.TermStore, rules threat.RuleStore, reputation threat.ReputationStore, log *zap.Logger) *Seeder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Seeder{terms: terms, rules: rules, reputation: reputation, log: log}
}

// Load applies all seed files found under dir.
func (s *Seeder) Load(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	if err := s.loadTerms(ctx, dir); err != nil {
		return err
	}
	if err := s.loadRules(ctx, dir); err != nil {
		return err
	}
	return s.loadReputation(ctx, dir)
}

func (s *Seeder) loadTerms(ctx context.Context, dir string) error {
	if s.terms == nil {
		return nil
	}
	existing, err := s.terms.ListTerms(ctx, "", true)
	if err != nil {
		return fmt.Errorf("checking terms: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	var seeds []termSeed
	ok, err := readSeedFile(dir, termSeedFile, &seeds)
	if err != nil || !ok {
		return err
	}

	for i, seed := range seeds {
		if seed.Pattern == "" {
			return fmt.Errorf("term seed %d: pattern is required", i)
		}
		t := &moderation.Term{
			Pattern:     seed.Pattern,
			IsRegex:     seed.IsRegex,
			Category:    seed.Category,
			Severity:    moderation.Severity(seed.Severity),
			Action:      moderation.TermAction(seed.Action),
			Replacement: seed.Replacement,
			Language:    seed.Language,
			Active:      true,
			CreatedBy:   "seed",
		}
		if t.Severity == "" {
			t.Severity = moderation.SeverityMedium
		}
		if t.Action == "" {
			t.Action = moderation.TermFilter
		}
		if err := s.terms.CreateTerm(ctx, t); err != nil {
			return fmt.Errorf("seeding term %q: %w", seed.Pattern, err)
		}
	}
	s.log.Info("seeded moderation terms", zap.Int("count", len(seeds)))
	return nil
}

func (s *Seeder) loadRules(ctx context.Context, dir string) error {
	if s.rules == nil {
		return nil
	}
	existing, err := s.rules.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("checking rules: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	var seeds []ruleSeed
	ok, err := readSeedFile(dir, ruleSeedFile, &seeds)
	if err != nil || !ok {
		return err
	}

	for _, seed := range seeds {
		var window time.Duration
		if seed.TimeWindow != "" {
			window, err = time.ParseDuration(seed.TimeWindow)
			if err != nil {
				return fmt.Errorf("rule %q: bad time_window: %w", seed.Name, err)
			}
		}
		actions := make([]threat.ResponseAction, len(seed.Actions))
		for i, a := range seed.Actions {
			actions[i] = threat.ResponseAction(a)
		}
		r := &threat.Rule{
			Name:        seed.Name,
			Description: seed.Description,
			Category:    threat.Category(seed.Category),
			Priority:    seed.Priority,
			Actions:     actions,
			Active:      true,
			CreatedBy:   "seed",
			Conditions: threat.RuleConditions{
				TimeWindow:     window,
				ThresholdCount: seed.ThresholdCount,
				IPAddresses:    seed.IPAddresses,
				Methods:        seed.Methods,
				PathPatterns:   seed.PathPatterns,
				UserAgents:     seed.UserAgents,
				AllowCountries: seed.AllowCountries,
				DenyCountries:  seed.DenyCountries,
				RequiredFlags:  seed.RequiredFlags,
			},
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", seed.Name, err)
		}
		if err := s.rules.CreateRule(ctx, r); err != nil {
			return fmt.Errorf("seeding rule %q: %w", seed.Name, err)
		}
	}
	s.log.Info("seeded response rules", zap.Int("count", len(seeds)))
	return nil
}

func (s *Seeder) loadReputation(ctx context.Context, dir string) error {
	if s.reputation == nil {
		return nil
	}
	existing, err := s.reputation.ListEntries(ctx, true)
	if err != nil {
		return fmt.Errorf("checking reputation entries: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	var seeds []reputationSeed
	ok, err := readSeedFile(dir, reputationSeedFile, &seeds)
	if err != nil || !ok {
		return err
	}

	for _, seed := range seeds {
		e := &threat.ReputationEntry{
			Address:     seed.Address,
			ThreatLevel: threat.ThreatLevel(seed.ThreatLevel),
			Source:      seed.Source,
			Reason:      seed.Reason,
			Active:      true,
		}
		if seed.TTL != "" {
			ttl, err := time.ParseDuration(seed.TTL)
			if err != nil {
				return fmt.Errorf("reputation %q: bad ttl: %w", seed.Address, err)
			}
			expires := time.Now().UTC().Add(ttl)
			e.ExpiresAt = &expires
		}
		if err := s.reputation.CreateEntry(ctx, e); err != nil {
			return fmt.Errorf("seeding reputation %q: %w", seed.Address, err)
		}
	}
	s.log.Info("seeded reputation entries", zap.Int("count", len(seeds)))
	return nil
}
