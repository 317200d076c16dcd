// Section parsing for analysis engine output.
//
// The engine is instructed to answer in markdown with fixed level-2
// headings. Models occasionally deviate (missing sections, prose instead of
// bullets), so parsing is tolerant: unknown headings are skipped, missing
// sections stay empty, and a reply with no recognizable structure becomes a
// bare summary rather than an error.
package llm

import (
	"encoding/json"
	"strings"
)

// Analysis is the structured result extracted from the engine's reply.
type Analysis struct {
	Summary       string   `json:"summary"`
	Functional    []string `json:"functional_requirements"`
	NonFunctional []string `json:"non_functional_requirements"`
	Risks         []string `json:"risks"`
}

// JSON renders the analysis as the machine-readable artifact persisted for
// the status/history API.
func (a Analysis) JSON() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// section heading aliases, lowered. Matching ignores heading level and
// trailing colons so "## Functional Requirements:" and "FUNCTIONAL
// REQUIREMENTS" both resolve.
var sectionAliases = map[string]string{
	"summary":                     "summary",
	"overview":                    "summary",
	"functional requirements":     "functional",
	"requirements":                "functional",
	"non-functional requirements": "nonfunctional",
	"nonfunctional requirements":  "nonfunctional",
	"risks":                       "risks",
	"risk assessment":             "risks",
}

// ParseAnalysis splits an engine reply into structured sections.
func ParseAnalysis(raw string) Analysis {
	var out Analysis
	current := ""
	var summary []string

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if isHeading(trimmed) {
			// Unknown headings resolve to "", which drops their content.
			current = headingName(trimmed)
			continue
		}
		if trimmed == "" {
			continue
		}
		switch current {
		case "summary":
			summary = append(summary, trimmed)
		case "functional":
			if item, ok := bulletItem(trimmed); ok {
				out.Functional = append(out.Functional, item)
			}
		case "nonfunctional":
			if item, ok := bulletItem(trimmed); ok {
				out.NonFunctional = append(out.NonFunctional, item)
			}
		case "risks":
			if item, ok := bulletItem(trimmed); ok {
				out.Risks = append(out.Risks, item)
			}
		}
	}

	out.Summary = strings.Join(summary, " ")
	if out.Summary == "" && len(out.Functional) == 0 && len(out.NonFunctional) == 0 && len(out.Risks) == 0 {
		// No recognizable structure; keep the whole reply as the summary so
		// the result is never silently empty.
		out.Summary = strings.TrimSpace(raw)
	}
	return out
}

// isHeading reports whether the line is a markdown heading.
func isHeading(line string) bool {
	return strings.HasPrefix(line, "#")
}

// headingName resolves a heading line to a canonical section name; empty for
// headings outside the known set.
func headingName(line string) string {
	h := strings.TrimLeft(line, "# ")
	h = strings.TrimSuffix(strings.TrimSpace(h), ":")
	return sectionAliases[strings.ToLower(h)]
}

// bulletItem strips a leading list marker. Non-bullet lines inside a list
// section are kept too; models sometimes drop the markers.
func bulletItem(line string) (string, bool) {
	for _, marker := range []string{"- ", "* ", "+ "} {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			return strings.TrimSpace(rest), true
		}
	}
	// numbered list: "1. item"
	if i := strings.IndexByte(line, '.'); i > 0 && i <= 3 && allDigits(line[:i]) {
		return strings.TrimSpace(line[i+1:]), true
	}
	return line, true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
