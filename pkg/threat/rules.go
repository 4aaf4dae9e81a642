package threat

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// ruleRegexps caches compiled condition patterns across evaluations.
var ruleRegexps sync.Map // pattern string -> *regexp.Regexp

func compileCondition(pattern string) (*regexp.Regexp, error) {
	if v, ok := ruleRegexps.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	ruleRegexps.Store(pattern, re)
	return re, nil
}

// addrInList reports whether addr falls inside any entry of the list.
// Entries may be single addresses or CIDR blocks; malformed entries never
// match.
func addrInList(addr netip.Addr, list []string) bool {
	for _, entry := range list {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if other, err := netip.ParseAddr(entry); err == nil && other == addr {
			return true
		}
	}
	return false
}

// Matches evaluates the rule's conditions against an event. The threshold
// condition is evaluated separately by the engine because it consumes a
// counter increment.
func (r *Rule) Matches(ev *Event) bool {
	c := r.Conditions

	if len(c.IPAddresses) > 0 {
		addr, err := netip.ParseAddr(ev.Network.IPAddress)
		if err != nil || !addrInList(addr, c.IPAddresses) {
			return false
		}
	}

	if len(c.Methods) > 0 {
		if !slices.ContainsFunc(c.Methods, func(m string) bool {
			return strings.EqualFold(m, ev.Request.Method)
		}) {
			return false
		}
	}

	if len(c.PathPatterns) > 0 && !anyPatternMatches(c.PathPatterns, ev.Request.Path) {
		return false
	}
	if len(c.UserAgents) > 0 && !anyPatternMatches(c.UserAgents, ev.Request.UserAgent) {
		return false
	}

	if len(c.DenyCountries) > 0 {
		if !slices.Contains(c.DenyCountries, strings.ToUpper(ev.Network.Country)) {
			return false
		}
	}
	if len(c.AllowCountries) > 0 {
		if slices.Contains(c.AllowCountries, strings.ToUpper(ev.Network.Country)) {
			return false
		}
	}

	for _, flag := range c.RequiredFlags {
		if !slices.Contains(ev.Flags, flag) {
			return false
		}
	}

	return true
}

func anyPatternMatches(patterns []string, value string) bool {
	if value == "" {
		return false
	}
	for _, p := range patterns {
		re, err := compileCondition(p)
		if err != nil {
			continue
		}
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// thresholdMet consumes one counter increment for the rule/source pair and
// reports whether the configured threshold has been reached. Rules without
// a threshold always pass.
func thresholdMet(ctx context.Context, counters CounterStore, r *Rule, ev *Event) (bool, error) {
	if r.Conditions.ThresholdCount <= 0 || r.Conditions.TimeWindow <= 0 {
		return true, nil
	}
	if counters == nil {
		return false, fmt.Errorf("rule %s requires a counter store", r.ID)
	}
	key := fmt.Sprintf("rule:%s:%s", r.ID, ev.Network.IPAddress)
	n, err := counters.Increment(ctx, key, r.Conditions.TimeWindow)
	if err != nil {
		return false, err
	}
	return n >= int64(r.Conditions.ThresholdCount), nil
}

// Validate checks a rule before it is stored.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}
	if r.Category == "" {
		return fmt.Errorf("%w: rule category is required", ErrInvalidInput)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: rule needs at least one action", ErrInvalidInput)
	}
	for _, a := range r.Actions {
		if !a.Valid() {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidInput, a)
		}
	}
	for _, p := range append(append([]string{}, r.Conditions.PathPatterns...), r.Conditions.UserAgents...) {
		if _, err := compileCondition(p); err != nil {
			return fmt.Errorf("%w: bad condition pattern %q: %v", ErrInvalidInput, p, err)
		}
	}
	for _, entry := range r.Conditions.IPAddresses {
		if strings.Contains(entry, "/") {
			if _, err := netip.ParsePrefix(entry); err != nil {
				return fmt.Errorf("%w: bad CIDR %q", ErrInvalidInput, entry)
			}
		} else if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("%w: bad IP address %q", ErrInvalidInput, entry)
		}
	}
	if (r.Conditions.ThresholdCount > 0) != (r.Conditions.TimeWindow > 0) {
		return fmt.Errorf("%w: threshold_count and time_window must be set together", ErrInvalidInput)
	}
	return nil
}
