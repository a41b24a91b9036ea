package manager

import (
	"strconv"
	"strings"
)

// Result is a classification with the derived moderation hints for its kind.
type Result struct {
	Kind     Kind    `json:"kind"`
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
	Severity string  `json:"severity,omitempty"`
	Action   string  `json:"action,omitempty"`
	Polarity string  `json:"polarity,omitempty"`
	Stars    int     `json:"stars,omitempty"`
}

// Interpret attaches kind-specific hints to a raw prediction.
func Interpret(kind Kind, p Prediction) Result {
	r := Result{Kind: kind, Label: p.Label, Score: p.Score}
	switch kind {
	case KindToxicity, KindHateSpeech:
		s := positiveClassScore(p)
		r.Severity = severity(s)
		r.Action = suggestedAction(s)
	case KindSentiment:
		r.Polarity, r.Stars = polarity(p.Label)
	case KindEmotion:
	}
	return r
}

// positiveClassScore converts a prediction into the probability of the harmful
// class. Engines may report either class as the winning label.
func positiveClassScore(p Prediction) float64 {
	l := strings.ToLower(p.Label)
	negated := strings.HasPrefix(l, "non") || strings.HasPrefix(l, "no") || strings.HasPrefix(l, "not")
	harmful := strings.Contains(l, "toxic") || strings.Contains(l, "hate") || strings.Contains(l, "offensive")
	if harmful && !negated {
		return p.Score
	}
	return 1 - p.Score
}

func severity(score float64) string {
	switch {
	case score < 0.3:
		return "none"
	case score < 0.5:
		return "low"
	case score < 0.7:
		return "medium"
	case score < 0.9:
		return "high"
	default:
		return "extreme"
	}
}

func suggestedAction(score float64) string {
	switch {
	case score < 0.5:
		return "allow"
	case score < 0.7:
		return "warning"
	case score < 0.85:
		return "timeout"
	default:
		return "ban"
	}
}

// polarity understands both "N stars" rating labels and plain polarity labels.
func polarity(label string) (string, int) {
	l := strings.ToLower(strings.TrimSpace(label))
	if fields := strings.Fields(l); len(fields) == 2 && strings.HasPrefix(fields[1], "star") {
		if n, err := strconv.Atoi(fields[0]); err == nil {
			switch {
			case n >= 4:
				return "positive", n
			case n <= 2:
				return "negative", n
			default:
				return "neutral", n
			}
		}
	}
	switch {
	case strings.HasPrefix(l, "pos"):
		return "positive", 0
	case strings.HasPrefix(l, "neg"):
		return "negative", 0
	default:
		return "neutral", 0
	}
}
