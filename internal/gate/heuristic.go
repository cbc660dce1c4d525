package gate

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/polything/phoenix-template/internal/core/domain"
)

// HeuristicScore rates content 0-10 when the generation capability does
// not score its own output. It rewards reasonable length, relevance to the
// client's industry, services and positioning, and basic structure.
func HeuristicScore(content string, profile *domain.ClientProfile) float64 {
	score := 5.0

	n := len(content)
	switch {
	case n < 50:
		score -= 2
	case n > 2000:
		score--
	case n >= 100 && n <= 1000:
		score++
	}

	lower := strings.ToLower(content)
	if profile != nil {
		if industry := strings.ToLower(strings.TrimSpace(profile.ICP.Industry)); industry != "" && strings.Contains(lower, industry) {
			score++
		}
		for _, svc := range profile.ServiceOffering.Services {
			if svc = strings.ToLower(strings.TrimSpace(svc)); svc != "" && strings.Contains(lower, svc) {
				score++
				break
			}
		}
		if mentionsPositioning(lower, profile.PositioningStatement) {
			score += 0.5
		}
	}

	if strings.Contains(content, ".") {
		score += 0.5
	}
	if strings.Count(content, "\n") >= 2 {
		score += 0.5
	}

	return round1(clamp(score))
}

// mentionsPositioning checks the first three long words of the positioning
// statement.
func mentionsPositioning(lower, positioning string) bool {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(positioning)) {
		if len(w) > 4 {
			keywords = append(keywords, w)
			if len(keywords) == 3 {
				break
			}
		}
	}
	for _, w := range keywords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// payloadText flattens every string value of a JSON document, one per line.
func payloadText(raw json.RawMessage) string {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return string(raw)
	}
	var parts []string
	collectStrings(doc, &parts)
	return strings.Join(parts, "\n")
}

func collectStrings(v any, out *[]string) {
	switch typed := v.(type) {
	case string:
		if s := strings.TrimSpace(typed); s != "" {
			*out = append(*out, s)
		}
	case []any:
		for _, item := range typed {
			collectStrings(item, out)
		}
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(typed)) {
			collectStrings(typed[k], out)
		}
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
