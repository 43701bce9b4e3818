package incident

import "strings"

// rule maps alert-name keywords to a failure category. Confidence values are
// static tuning knobs, not computed probabilities.
type rule struct {
	keywords   []string
	category   string
	confidence float64
}

// rules are checked in order; the first rule with any matching keyword wins,
// so an alert name containing both "crash" and "oom" classifies as crashloop.
var rules = []rule{
	{[]string{"crashloop", "crash"}, "crashloop", 0.7},
	{[]string{"oom"}, "oomkilled", 0.7},
	{[]string{"5xx", "error"}, "error_rate", 0.6},
	{[]string{"latency"}, "latency", 0.6},
}

// Classify maps an alert name to a failure category via ordered
// case-insensitive substring matching. Unmatched names classify as unknown
// with low confidence.
func Classify(alertName string) Classification {
	name := strings.ToLower(alertName)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(name, kw) {
				return Classification{Type: r.category, Confidence: r.confidence}
			}
		}
	}
	return Classification{Type: "unknown", Confidence: 0.2}
}
