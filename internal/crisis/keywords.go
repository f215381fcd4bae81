package crisis

import "strings"

// keywordTiers holds the matching vocabulary, most urgent first. The first
// tier with any match decides the severity; lower tiers are not consulted.
// Matching is case-insensitive substring matching — deterministic and
// auditable, deliberately not a model.
var keywordTiers = []struct {
	severity Severity
	keywords []string
}{
	{SeverityImmediate, []string{
		"kill myself",
		"end my life",
		"take my own life",
		"want to die",
		"suicide",
		"suicidal",
		"better off dead",
		"end it all",
		"not worth living",
	}},
	{SeveritySelfHarm, []string{
		"hurt myself",
		"harm myself",
		"cut myself",
		"cutting myself",
		"burn myself",
		"self harm",
		"self-harm",
		"punish myself",
	}},
	{SeverityHigh, []string{
		"hopeless",
		"worthless",
		"no reason to live",
		"no way out",
		"can't go on",
		"cant go on",
		"give up on everything",
		"nothing matters anymore",
		"everyone would be happier without me",
	}},
	{SeverityModerate, []string{
		"depressed",
		"depression",
		"anxious",
		"anxiety",
		"panic attack",
		"overwhelmed",
		"can't cope",
		"cant cope",
		"so sad",
		"lonely",
		"alone",
		"stressed",
		"scared",
	}},
}

// classify returns the severity of text and the keywords that matched within
// the winning tier. Returns SeverityNone with no keywords when nothing matches.
// Whitespace is collapsed before matching so padding a phrase with extra
// spaces or line breaks cannot dodge a multi-word keyword; classification is
// constant over everything the cache fingerprint treats as equal.
func classify(text string) (Severity, []string) {
	lowered := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for _, tier := range keywordTiers {
		var matched []string
		for _, kw := range tier.keywords {
			if strings.Contains(lowered, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			return tier.severity, matched
		}
	}
	return SeverityNone, nil
}
