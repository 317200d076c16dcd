// Package analysis implements the pipeline stage that turns a stored source
// document into a structured requirements analysis.
//
// The stage is an event handler: it may be invoked more than once for the
// same request (at-least-once delivery), and it may be invoked again after
// a partial run (worker crash between transitions). Both are handled with
// the conditional-advance guard: each transition either applies, resumes a
// partial run, or identifies the event as a duplicate to be dropped.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docmill/go-docintake-backend/internal/domain"
	"github.com/docmill/go-docintake-backend/internal/llm"
	"github.com/docmill/go-docintake-backend/internal/pipeline"
	"github.com/docmill/go-docintake-backend/internal/prefs"
	"github.com/docmill/go-docintake-backend/internal/repo"
	"github.com/docmill/go-docintake-backend/internal/storage"
)

// OutputAnalysis is the Outputs key under which the machine-readable
// analysis artifact is recorded. The render stage reads it back by this key.
const OutputAnalysis = "analysis"

// Stage analyzes one request per event.
type Stage struct {
	DB       *gorm.DB
	Store    storage.BlobStore
	Analyzer llm.Analyzer
	Queue    *pipeline.Queue
}

// Handle processes one analysis event: extract text from the stored source,
// invoke the analysis engine, persist the structured result, and hand the
// request to the render stage.
//
// Error contract: returning an error requests redelivery, so only transient
// infrastructure failures propagate. Engine failures past the retry budget
// and terminal-state conflicts are final — they fail or drop the request
// here and return nil.
func (s *Stage) Handle(ctx context.Context, ev pipeline.Event) error {
	tr := otel.Tracer("analysis/Stage")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(attribute.String("request.id", ev.RequestID)),
	)
	defer span.End()

	r, err := repo.GetRequest(ctx, s.DB, ev.RequestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil // record gone; nothing to resume
		}
		return err
	}

	// Claim the extraction step, or resume/drop based on where the record is.
	r, proceed, err := s.claim(ctx, r, domain.StageUploaded, domain.StageExtracting, nil)
	if err != nil || !proceed {
		return err
	}

	if r.Stage == domain.StageExtracting {
		// Extraction boundary: the stored source bytes become analyzable
		// text. Binary formats get their text layer lifted by the extraction
		// collaborator; plain text passes through.
		src, err := s.Store.Get(ctx, r.StorageRef)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				_ = repo.FailRequest(ctx, s.DB, r.ID, domain.ErrKindInternal, "source document missing from storage")
				return nil
			}
			return err
		}
		textRef, err := s.Store.Put(ctx, r.ID+"/text/extracted.txt", extractText(r.FileType, src))
		if err != nil {
			return err
		}
		r, proceed, err = s.claim(ctx, r, domain.StageExtracting, domain.StageAnalyzing,
			map[string]any{"outputs": withOutput(r.Outputs, "text", textRef)})
		if err != nil || !proceed {
			return err
		}
	}

	// Analyzing: invoke the engine. The analyzer owns its timeout and retry
	// budget; an exhausted budget is a final upstream failure.
	text, err := s.Store.Get(ctx, r.Outputs["text"])
	if err != nil {
		return err
	}
	features := prefs.Apply(r.Preferences)
	raw, err := s.Analyzer.Analyze(ctx, llm.Document{
		Filename: r.Filename,
		Text:     string(text),
		Detailed: features.DetailedAnalysis,
	})
	if err != nil {
		if errors.Is(err, llm.ErrExhausted) {
			_ = repo.FailRequest(ctx, s.DB, r.ID, domain.ErrKindUpstream, "analysis engine unavailable: "+err.Error())
			return nil
		}
		return err
	}

	parsed := llm.ParseAnalysis(raw)
	artifact, err := parsed.JSON()
	if err != nil {
		_ = repo.FailRequest(ctx, s.DB, r.ID, domain.ErrKindInternal, "failed to encode analysis")
		return nil
	}
	ref, err := s.Store.Put(ctx, r.ID+"/analysis/analysis.json", artifact)
	if err != nil {
		return err
	}

	r, proceed, err = s.claim(ctx, r, domain.StageAnalyzing, domain.StageAnalyzed,
		map[string]any{"outputs": withOutput(r.Outputs, OutputAnalysis, ref)})
	if err != nil || !proceed {
		return err
	}

	return s.Queue.Publish(ctx, pipeline.TopicRender, r.ID)
}

// claim applies the transition from→to. Three outcomes:
//   - applied: returns the updated record with proceed=true;
//   - resumable: the record already sits at "to" or between this stage's
//     transitions (an earlier partial run); returns it with proceed=true;
//   - duplicate/terminal: the record moved past this stage or finished;
//     proceed=false and the event is dropped without error.
func (s *Stage) claim(ctx context.Context, r *domain.Request, from, to domain.Stage, attrs map[string]any) (*domain.Request, bool, error) {
	if r.Stage != from {
		// Not ours to apply: resume if still within this stage's span.
		if r.Status.Terminal() {
			return r, false, nil
		}
		switch r.Stage {
		case domain.StageExtracting, domain.StageAnalyzing:
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
		// A concurrent delivery won the transition; this one is a duplicate.
		return r, false, nil
	}
	return r, false, fmt.Errorf("advance %s->%s: %w", from, to, err)
}

// withOutput returns a copy of refs with one entry added; the original map
// on the loaded record is left untouched.
func withOutput(refs domain.OutputRefs, key, ref string) domain.OutputRefs {
	out := make(domain.OutputRefs, len(refs)+1)
	for k, v := range refs {
		out[k] = v
	}
	out[key] = ref
	return out
}

// extractText lifts analyzable text out of the stored source bytes. Plain
// text and markdown pass through; binary formats are handed to a best-effort
// salvage that keeps printable runs. Full binary parsing (PDF text layers,
// OOXML) lives behind the extraction collaborator boundary, not here.
func extractText(fileType string, src []byte) []byte {
	switch fileType {
	case "txt", "md":
		return src
	default:
		return printableRuns(src)
	}
}

// printableRuns keeps runs of printable ASCII of length >= 4, newline
// separated. Crude, but enough signal for the engine when a binary source
// arrives without its extraction sidecar.
func printableRuns(src []byte) []byte {
	var out []byte
	var run []byte
	flush := func() {
		if len(run) >= 4 {
			out = append(out, run...)
			out = append(out, '\n')
		}
		run = run[:0]
	}
	for _, b := range src {
		if b >= 0x20 && b < 0x7f {
			run = append(run, b)
			continue
		}
		flush()
	}
	flush()
	return out
}
