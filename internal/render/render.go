// Package render implements the final pipeline stage: turning a structured
// analysis into the output formats the caller asked for, storing the
// artifacts, and walking the request to its delivered terminal state.
//
// Like the analysis stage, the handler is redelivery-safe: every transition
// goes through the conditional-advance guard, and the formatting->delivering
// advance doubles as the delivery claim, so a duplicate event can never
// trigger a second delivery.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/docmill/go-docintake-backend/internal/analysis"
	"github.com/docmill/go-docintake-backend/internal/domain"
	"github.com/docmill/go-docintake-backend/internal/llm"
	"github.com/docmill/go-docintake-backend/internal/pipeline"
	"github.com/docmill/go-docintake-backend/internal/prefs"
	"github.com/docmill/go-docintake-backend/internal/repo"
	"github.com/docmill/go-docintake-backend/internal/storage"
)

// Stage renders and delivers one request per event.
type Stage struct {
	DB    *gorm.DB
	Store storage.BlobStore

	// Deliver pushes a completed request to its sender (email reply, chat
	// notification). Transport internals live behind this boundary; a nil
	// Deliver means results are pickup-only via the status API.
	Deliver func(ctx context.Context, r *domain.Request) error
}

// Handle processes one render event: load the analysis artifact, render
// every selected format through the request's feature bundle, record the
// output references, and finish delivery.
func (s *Stage) Handle(ctx context.Context, ev pipeline.Event) error {
	tr := otel.Tracer("render/Stage")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(attribute.String("request.id", ev.RequestID)),
	)
	defer span.End()

	r, err := repo.GetRequest(ctx, s.DB, ev.RequestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}

	r, proceed, err := s.claim(ctx, r, domain.StageAnalyzed, domain.StageFormatting, nil)
	if err != nil || !proceed {
		return err
	}

	refs, err := s.renderAll(ctx, r)
	if err != nil {
		return err
	}

	// The formatting->delivering advance is the delivery claim: only the
	// event that wins it calls Deliver, so a duplicate can never push the
	// result to the sender twice.
	r, proceed, err = s.claim(ctx, r, domain.StageFormatting, domain.StageDelivering,
		map[string]any{"outputs": refs})
	if err != nil || !proceed {
		return err
	}

	if s.Deliver != nil {
		if err := s.Deliver(ctx, r); err != nil {
			_ = repo.FailRequest(ctx, s.DB, r.ID, domain.ErrKindUpstream, "delivery failed: "+err.Error())
			return nil
		}
	}

	_, _, err = s.claim(ctx, r, domain.StageDelivering, domain.StageDelivered, nil)
	return err
}

// renderAll produces every required output format and returns the full
// output reference map (existing refs plus the rendered artifacts).
func (s *Stage) renderAll(ctx context.Context, r *domain.Request) (domain.OutputRefs, error) {
	raw, err := s.Store.Get(ctx, r.Outputs[analysis.OutputAnalysis])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = repo.FailRequest(ctx, s.DB, r.ID, domain.ErrKindInternal, "analysis artifact missing from storage")
			return nil, nil
		}
		return nil, err
	}
	var a llm.Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		_ = repo.FailRequest(ctx, s.DB, r.ID, domain.ErrKindInternal, "analysis artifact is not valid JSON")
		return nil, nil
	}

	features := prefs.Apply(r.Preferences)
	refs := make(domain.OutputRefs, len(r.Outputs)+len(r.Preferences.Formats)+1)
	for k, v := range r.Outputs {
		refs[k] = v
	}

	for _, format := range prefs.FilterOutputs(r.Preferences.Formats) {
		data, err := Render(format, r.Filename, a, features)
		if err != nil {
			_ = repo.FailRequest(ctx, s.DB, r.ID, domain.ErrKindInternal,
				fmt.Sprintf("rendering %s failed: %v", format, err))
			return nil, nil
		}
		ref, err := s.Store.Put(ctx, fmt.Sprintf("%s/outputs/report.%s", r.ID, format), data)
		if err != nil {
			return nil, err
		}
		refs[string(format)] = ref
	}
	return refs, nil
}

// claim mirrors analysis.Stage: apply, resume, or drop. See that package
// for the three-outcome contract. Only the formatting stage resumes:
// re-rendering overwrites the same artifact paths, whereas re-running
// delivery would push the result to the sender a second time, so a record
// found at delivering is owned by the event that advanced it there.
func (s *Stage) claim(ctx context.Context, r *domain.Request, from, to domain.Stage, attrs map[string]any) (*domain.Request, bool, error) {
	if r.Stage != from {
		if r.Status.Terminal() {
			return r, false, nil
		}
		switch r.Stage {
		case domain.StageFormatting:
			return r, true, nil
		default:
			return r, false, nil
		}
	}
	updated, err := repo.AdvanceRequest(ctx, s.DB, r.ID, from, to, attrs)
	if err == nil {
		return updated, true, nil
	}
	if errors.Is(err, repo.ErrAlreadyAdvanced) || errors.Is(err, repo.ErrTerminal) {
		return r, false, nil
	}
	return r, false, fmt.Errorf("advance %s->%s: %w", from, to, err)
}

var titleCaser = cases.Title(language.English)

// Render produces one output format from a structured analysis. The text
// formats are composed here; PDF and DOCX wrap the markdown composition —
// full typesetting sits behind the document-rendering collaborator
// boundary, and these artifacts are what it consumes.
func Render(format prefs.Format, filename string, a llm.Analysis, f prefs.FeatureBundle) ([]byte, error) {
	switch format {
	case prefs.FormatJSON:
		return a.JSON()
	case prefs.FormatMarkdown, prefs.FormatPDF, prefs.FormatDOCX:
		return renderMarkdown(filename, a, f), nil
	case prefs.FormatHTML:
		return renderHTML(filename, a, f), nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// renderMarkdown composes the canonical report body shared by the
// document-style formats.
func renderMarkdown(filename string, a llm.Analysis, f prefs.FeatureBundle) []byte {
	var b strings.Builder
	b.WriteString("# " + titleCaser.String(reportTitle(filename)) + "\n\n")
	b.WriteString("## Summary\n\n" + a.Summary + "\n\n")
	writeList(&b, "Functional Requirements", a.Functional)
	writeList(&b, "Non-Functional Requirements", a.NonFunctional)
	writeList(&b, "Risks", a.Risks)
	if f.Charts {
		b.WriteString("## Charts\n\n")
		b.WriteString(fmt.Sprintf("Requirements by category: functional %d, non-functional %d, risks %d.\n\n",
			len(a.Functional), len(a.NonFunctional), len(a.Risks)))
	}
	return []byte(b.String())
}

func renderHTML(filename string, a llm.Analysis, f prefs.FeatureBundle) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(htmlEscape(titleCaser.String(reportTitle(filename))))
	b.WriteString("</title></head><body>\n")
	b.WriteString("<h1>" + htmlEscape(titleCaser.String(reportTitle(filename))) + "</h1>\n")
	b.WriteString("<h2>Summary</h2>\n<p>" + htmlEscape(a.Summary) + "</p>\n")
	writeHTMLList(&b, "Functional Requirements", a.Functional)
	writeHTMLList(&b, "Non-Functional Requirements", a.NonFunctional)
	writeHTMLList(&b, "Risks", a.Risks)
	if f.Interactive {
		b.WriteString("<script>document.querySelectorAll('h2').forEach(function(h){h.style.cursor='pointer';h.addEventListener('click',function(){var n=h.nextElementSibling;if(n){n.hidden=!n.hidden;}});});</script>\n")
	}
	b.WriteString("</body></html>\n")
	return []byte(b.String())
}

func reportTitle(filename string) string {
	name := filename
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.TrimSpace(name) + " requirements analysis"
}

func writeList(b *strings.Builder, heading string, items []string) {
	b.WriteString("## " + heading + "\n\n")
	if len(items) == 0 {
		b.WriteString("None identified.\n\n")
		return
	}
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
	b.WriteString("\n")
}

func writeHTMLList(b *strings.Builder, heading string, items []string) {
	b.WriteString("<h2>" + heading + "</h2>\n<ul>\n")
	for _, it := range items {
		b.WriteString("<li>" + htmlEscape(it) + "</li>\n")
	}
	b.WriteString("</ul>\n")
}

func htmlEscape(s string) string {
	return strings.NewReplacer(
		"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
	).Replace(s)
}
