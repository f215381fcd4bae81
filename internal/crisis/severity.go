package crisis

// Severity classifies the risk level of a single message.
type Severity string

// Severity tiers, ordered by urgency.
const (
	SeverityNone      Severity = "none"
	SeverityModerate  Severity = "moderate"
	SeveritySelfHarm  Severity = "selfHarm"
	SeverityHigh      Severity = "high"
	SeverityImmediate Severity = "immediate"
)

// severityRank orders severities for comparisons and resource filtering.
var severityRank = map[Severity]int{
	SeverityNone:      0,
	SeverityModerate:  1,
	SeveritySelfHarm:  2,
	SeverityHigh:      3,
	SeverityImmediate: 4,
}

// Rank returns the numeric urgency of s. Unknown severities rank as none.
func (s Severity) Rank() int { return severityRank[s] }

// IsCrisis reports whether this severity requires the crisis reply path.
// Moderate matches are recorded for escalation tracking but handled by the
// normal pipeline.
func (s Severity) IsCrisis() bool { return s.Rank() >= SeveritySelfHarm.Rank() }
