package threat

// Risk scoring. Scores live on a 0-100 scale: each event type carries a
// base score, a reputation hit and a high-risk origin add fixed bonuses,
// and the sum is clamped to the scale.

const (
	reputationBonus   = 50
	highRiskGeoBonus  = 20
	maxRiskScore      = 100
	severityCritical  = 80
	severityHighMin   = 60
	severityMediumMin = 30
	severityLowMin    = 10
)

var baseRiskScores = map[EventType]int{
	EventLoginAttempt:       0,
	EventLoginFailure:       10,
	EventBruteForce:         80,
	EventSQLInjection:       90,
	EventXSSAttempt:         70,
	EventDDoSAttempt:        85,
	EventUnauthorizedAccess: 75,
	EventSuspiciousActivity: 50,
	EventOther:              0,
}

// BaseRiskScore returns the intrinsic score of an event type.
func BaseRiskScore(t EventType) int {
	return baseRiskScores[t]
}

// RiskScore combines the base score with the reputation and geography
// bonuses, clamped to [0, 100].
func RiskScore(t EventType, reputationHit, highRiskOrigin bool) int {
	score := baseRiskScores[t]
	if reputationHit {
		score += reputationBonus
	}
	if highRiskOrigin {
		score += highRiskGeoBonus
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}
	if score < 0 {
		score = 0
	}
	return score
}

// SeverityForScore buckets a risk score into an event severity.
func SeverityForScore(score int) Severity {
	switch {
	case score >= severityCritical:
		return SeverityCritical
	case score >= severityHighMin:
		return SeverityHigh
	case score >= severityMediumMin:
		return SeverityMedium
	case score >= severityLowMin:
		return SeverityLow
	default:
		return SeverityInfo
	}
}
