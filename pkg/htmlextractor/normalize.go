package htmlextractor

import (
	"regexp"
	"strings"
)

var (
	reModelCore  = regexp.MustCompile(`\b(Core)\s+([A-Z0-9-]{3,})\b`)
	reModelGenum = regexp.MustCompile(`\b[A-Z]+[0-9]{2,}[A-Z0-9-]*\b`)
)

// NormalizeProductName applies spec §4.7's rewrite rules to a raw
// extracted name, shared by the static pipeline and AiExtractor output.
func NormalizeProductName(raw string) string {
	name := raw

	for _, sep := range []string{" with ", " for ", ","} {
		if idx := strings.Index(name, sep); idx >= 0 {
			name = name[:idx]
		}
	}
	name = strings.TrimSpace(name)

	name = strings.ReplaceAll(name, "Air Purifiers", "Air Purifier")

	model := lastModelHint(name)
	if model != "" && !strings.Contains(name, model) {
		stripped := strings.TrimSuffix(model, "-P")
		name = name + " - " + stripped
	}

	return strings.TrimSpace(name)
}

type modelMatch struct {
	start, end int
	text       string
}

// lastModelHint finds the rightmost model-hint match across both
// patterns in spec §4.7 ("last match wins").
func lastModelHint(name string) string {
	var matches []modelMatch
	for _, loc := range reModelCore.FindAllStringSubmatchIndex(name, -1) {
		matches = append(matches, modelMatch{loc[0], loc[1], name[loc[0]:loc[1]]})
	}
	for _, loc := range reModelGenum.FindAllStringIndex(name, -1) {
		matches = append(matches, modelMatch{loc[0], loc[1], name[loc[0]:loc[1]]})
	}
	if len(matches) == 0 {
		return ""
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.start > best.start {
			best = m
		}
	}
	return best.text
}
