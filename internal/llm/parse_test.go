package llm

import (
	"strings"
	"testing"
)

func TestParseAnalysis_WellFormedReply(t *testing.T) {
	raw := strings.Join([]string{
		"## Summary",
		"",
		"The document describes an ordering system.",
		"It covers checkout and payment.",
		"",
		"## Functional Requirements",
		"- Users can place orders",
		"- Orders are confirmed by email",
		"",
		"## Non-Functional Requirements",
		"* 99.9% availability",
		"",
		"## Risks",
		"1. Payment provider lock-in",
	}, "\n")

	a := ParseAnalysis(raw)

	if want := "The document describes an ordering system. It covers checkout and payment."; a.Summary != want {
		t.Fatalf("summary = %q; want %q", a.Summary, want)
	}
	if len(a.Functional) != 2 || a.Functional[0] != "Users can place orders" {
		t.Fatalf("functional = %v; want two items starting with order placement", a.Functional)
	}
	if len(a.NonFunctional) != 1 || a.NonFunctional[0] != "99.9% availability" {
		t.Fatalf("non-functional = %v", a.NonFunctional)
	}
	if len(a.Risks) != 1 || a.Risks[0] != "Payment provider lock-in" {
		t.Fatalf("risks = %v", a.Risks)
	}
}

func TestParseAnalysis_HeadingVariants(t *testing.T) {
	// Different heading levels, trailing colons, and alias names must all
	// resolve to the same sections.
	raw := strings.Join([]string{
		"# Overview:",
		"Short summary.",
		"### REQUIREMENTS",
		"- req one",
		"## Risk Assessment",
		"- risk one",
	}, "\n")

	a := ParseAnalysis(raw)
	if a.Summary != "Short summary." {
		t.Fatalf("summary = %q", a.Summary)
	}
	if len(a.Functional) != 1 || a.Functional[0] != "req one" {
		t.Fatalf("functional = %v", a.Functional)
	}
	if len(a.Risks) != 1 || a.Risks[0] != "risk one" {
		t.Fatalf("risks = %v", a.Risks)
	}
}

func TestParseAnalysis_MissingMarkersKept(t *testing.T) {
	// Models sometimes drop bullet markers; bare lines inside a list section
	// still count as items.
	raw := "## Functional Requirements\nplain item without marker\n"
	a := ParseAnalysis(raw)
	if len(a.Functional) != 1 || a.Functional[0] != "plain item without marker" {
		t.Fatalf("functional = %v", a.Functional)
	}
}

func TestParseAnalysis_UnstructuredReplyBecomesSummary(t *testing.T) {
	raw := "  The model ignored the format and wrote prose.  "
	a := ParseAnalysis(raw)
	if a.Summary != "The model ignored the format and wrote prose." {
		t.Fatalf("summary = %q", a.Summary)
	}
	if len(a.Functional)+len(a.NonFunctional)+len(a.Risks) != 0 {
		t.Fatalf("sections should be empty, got %+v", a)
	}
}

func TestParseAnalysis_UnknownHeadingIgnored(t *testing.T) {
	raw := strings.Join([]string{
		"## Summary",
		"ok",
		"## Appendix",
		"- should be dropped",
	}, "\n")
	a := ParseAnalysis(raw)
	if a.Summary != "ok" {
		t.Fatalf("summary = %q", a.Summary)
	}
	if len(a.Functional) != 0 {
		t.Fatalf("functional = %v; want empty", a.Functional)
	}
}

func TestAnalysisJSON_RoundTripsFieldNames(t *testing.T) {
	a := Analysis{Summary: "s", Functional: []string{"f"}}
	b, err := a.JSON()
	if err != nil {
		t.Fatalf("JSON() error: %v", err)
	}
	for _, key := range []string{"summary", "functional_requirements", "non_functional_requirements", "risks"} {
		if !strings.Contains(string(b), key) {
			t.Fatalf("artifact missing key %q: %s", key, b)
		}
	}
}
