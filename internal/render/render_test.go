package render

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/docmill/go-docintake-backend/internal/analysis"
	"github.com/docmill/go-docintake-backend/internal/domain"
	"github.com/docmill/go-docintake-backend/internal/llm"
	"github.com/docmill/go-docintake-backend/internal/pipeline"
	"github.com/docmill/go-docintake-backend/internal/prefs"
	"github.com/docmill/go-docintake-backend/internal/repo"
	"github.com/docmill/go-docintake-backend/internal/storage"
)

var testAnalysis = llm.Analysis{
	Summary:       "An internal tooling rewrite.",
	Functional:    []string{"import existing data", "export as csv"},
	NonFunctional: []string{"P95 latency under 200ms"},
	Risks:         []string{"legacy schema drift"},
}

func newTestStage(t *testing.T) (*Stage, *gorm.DB, *storage.LocalStore) {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "render.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return &Stage{DB: db, Store: store}, db, store
}

// seedAnalyzed creates a request parked at the analyzed stage with a stored
// analysis artifact, the state a render event finds.
func seedAnalyzed(t *testing.T, db *gorm.DB, store *storage.LocalStore, p prefs.Preferences) *domain.Request {
	t.Helper()
	ctx := context.Background()
	r, err := repo.CreateRequest(ctx, db, &domain.Request{
		Sender:      "dev@example.com",
		Source:      domain.SourceAPI,
		Filename:    "project-brief.txt",
		FileType:    "txt",
		SizeBytes:   64,
		Preferences: p,
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	artifact, err := testAnalysis.JSON()
	if err != nil {
		t.Fatalf("encode analysis: %v", err)
	}
	ref, err := store.Put(ctx, r.ID+"/analysis/analysis.json", artifact)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	outputs := domain.OutputRefs{analysis.OutputAnalysis: ref}
	err = db.Model(&domain.Request{}).Where("id = ?", r.ID).Updates(map[string]any{
		"stage":   domain.StageAnalyzed,
		"status":  domain.StatusProcessing,
		"outputs": outputs,
	}).Error
	if err != nil {
		t.Fatalf("park at analyzed: %v", err)
	}
	r.Stage = domain.StageAnalyzed
	r.Status = domain.StatusProcessing
	r.Outputs = outputs
	return r
}

func TestHandle_RendersAndDelivers(t *testing.T) {
	s, db, store := newTestStage(t)
	ctx := context.Background()
	r := seedAnalyzed(t, db, store, prefs.Preferences{
		Formats: []prefs.Format{prefs.FormatPDF, prefs.FormatHTML},
		Quality: prefs.QualityStandard,
	})

	if err := s.Handle(ctx, pipeline.Event{Topic: pipeline.TopicRender, RequestID: r.ID, Attempt: 1}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, err := repo.GetRequest(ctx, db, r.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.Status != domain.StatusDelivered || got.Stage != domain.StageDelivered {
		t.Fatalf("state = %s/%s; want delivered", got.Status, got.Stage)
	}

	// Requested formats plus the always-present machine-readable artifact.
	for _, key := range []string{"pdf", "html", "json", analysis.OutputAnalysis} {
		if got.Outputs[key] == "" {
			t.Fatalf("missing output %q in %v", key, got.Outputs)
		}
	}

	data, err := store.Get(ctx, got.Outputs["pdf"])
	if err != nil {
		t.Fatalf("pdf artifact: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, "# Project Brief Requirements Analysis") {
		t.Fatalf("report title missing: %q", body)
	}
	if !strings.Contains(body, "- import existing data") {
		t.Fatalf("functional list missing: %q", body)
	}

	jsonData, err := store.Get(ctx, got.Outputs["json"])
	if err != nil {
		t.Fatalf("json artifact: %v", err)
	}
	var a llm.Analysis
	if err := json.Unmarshal(jsonData, &a); err != nil {
		t.Fatalf("json artifact invalid: %v", err)
	}
	if a.Summary != testAnalysis.Summary {
		t.Fatalf("json summary = %q", a.Summary)
	}
}

func TestHandle_DuplicateEventDropped(t *testing.T) {
	s, db, store := newTestStage(t)
	ctx := context.Background()
	r := seedAnalyzed(t, db, store, prefs.Defaults())

	ev := pipeline.Event{Topic: pipeline.TopicRender, RequestID: r.ID, Attempt: 1}
	if err := s.Handle(ctx, ev); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	first, _ := repo.GetRequest(ctx, db, r.ID)

	delivered := 0
	s.Deliver = func(context.Context, *domain.Request) error {
		delivered++
		return nil
	}
	if err := s.Handle(ctx, ev); err != nil {
		t.Fatalf("duplicate Handle: %v", err)
	}
	if delivered != 0 {
		t.Fatal("duplicate event triggered a second delivery")
	}
	second, _ := repo.GetRequest(ctx, db, r.ID)
	if second.UpdatedAt != first.UpdatedAt {
		t.Fatal("duplicate event modified the record")
	}
}

func TestHandle_DuplicateDuringDeliveryDropped(t *testing.T) {
	s, db, store := newTestStage(t)
	ctx := context.Background()
	r := seedAnalyzed(t, db, store, prefs.Defaults())

	// Walk the record to delivering, the state a concurrent duplicate finds
	// while the claim winner is mid-delivery.
	err := db.Model(&domain.Request{}).Where("id = ?", r.ID).Updates(map[string]any{
		"stage":  domain.StageDelivering,
		"status": domain.StatusProcessing,
	}).Error
	if err != nil {
		t.Fatalf("park at delivering: %v", err)
	}

	delivered := 0
	s.Deliver = func(context.Context, *domain.Request) error {
		delivered++
		return nil
	}
	if err := s.Handle(ctx, pipeline.Event{Topic: pipeline.TopicRender, RequestID: r.ID, Attempt: 1}); err != nil {
		t.Fatalf("duplicate Handle: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("delivery ran %d times for a record already claimed for delivery", delivered)
	}
	got, _ := repo.GetRequest(ctx, db, r.ID)
	if got.Stage != domain.StageDelivering {
		t.Fatalf("stage = %s; the duplicate must leave the claim winner's state alone", got.Stage)
	}
}

func TestHandle_DeliveryFailureFailsRequest(t *testing.T) {
	s, db, store := newTestStage(t)
	s.Deliver = func(context.Context, *domain.Request) error {
		return errors.New("smtp connect refused")
	}
	ctx := context.Background()
	r := seedAnalyzed(t, db, store, prefs.Defaults())

	if err := s.Handle(ctx, pipeline.Event{Topic: pipeline.TopicRender, RequestID: r.ID, Attempt: 1}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, _ := repo.GetRequest(ctx, db, r.ID)
	if got.Status != domain.StatusFailed || got.ErrorKind != domain.ErrKindUpstream {
		t.Fatalf("state = %s/%s; want failed/upstream", got.Status, got.ErrorKind)
	}
	// Rendered artifacts survive the failed delivery for pickup.
	if got.Outputs["json"] == "" {
		t.Fatal("rendered outputs lost on delivery failure")
	}
}

func TestHandle_MissingArtifactFailsRequest(t *testing.T) {
	s, db, store := newTestStage(t)
	ctx := context.Background()
	r := seedAnalyzed(t, db, store, prefs.Defaults())
	err := db.Model(&domain.Request{}).Where("id = ?", r.ID).
		Update("outputs", domain.OutputRefs{analysis.OutputAnalysis: "local://gone/analysis.json"}).Error
	if err != nil {
		t.Fatalf("break outputs: %v", err)
	}

	if err := s.Handle(ctx, pipeline.Event{Topic: pipeline.TopicRender, RequestID: r.ID, Attempt: 1}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, _ := repo.GetRequest(ctx, db, r.ID)
	if got.Status != domain.StatusFailed || got.ErrorKind != domain.ErrKindInternal {
		t.Fatalf("state = %s/%s; want failed/internal", got.Status, got.ErrorKind)
	}
}

func TestHandle_UnknownRequestConsumed(t *testing.T) {
	s, _, _ := newTestStage(t)
	if err := s.Handle(context.Background(), pipeline.Event{Topic: pipeline.TopicRender, RequestID: "never-existed", Attempt: 1}); err != nil {
		t.Fatalf("event for deleted record must be consumed, got %v", err)
	}
}

func TestRender_Formats(t *testing.T) {
	f := prefs.FeatureBundle{}

	md, err := Render(prefs.FormatMarkdown, "spec.txt", testAnalysis, f)
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	for _, format := range []prefs.Format{prefs.FormatPDF, prefs.FormatDOCX} {
		out, err := Render(format, "spec.txt", testAnalysis, f)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		// Document formats carry the canonical markdown composition.
		if string(out) != string(md) {
			t.Fatalf("%s diverged from the markdown composition", format)
		}
	}

	jsonOut, err := Render(prefs.FormatJSON, "spec.txt", testAnalysis, f)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	var a llm.Analysis
	if err := json.Unmarshal(jsonOut, &a); err != nil {
		t.Fatalf("json output invalid: %v", err)
	}

	if _, err := Render(prefs.Format("xlsx"), "spec.txt", testAnalysis, f); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestRenderMarkdown_ChartsSection(t *testing.T) {
	without := renderMarkdown("spec.txt", testAnalysis, prefs.FeatureBundle{})
	if strings.Contains(string(without), "## Charts") {
		t.Fatal("charts section present without the feature")
	}
	with := renderMarkdown("spec.txt", testAnalysis, prefs.FeatureBundle{Charts: true})
	if !strings.Contains(string(with), "## Charts") {
		t.Fatal("charts section missing")
	}
	if !strings.Contains(string(with), "functional 2, non-functional 1, risks 1") {
		t.Fatalf("chart counts wrong: %s", with)
	}
}

func TestRenderMarkdown_EmptySections(t *testing.T) {
	out := string(renderMarkdown("spec.txt", llm.Analysis{Summary: "s"}, prefs.FeatureBundle{}))
	if strings.Count(out, "None identified.") != 3 {
		t.Fatalf("empty sections not marked: %s", out)
	}
}

func TestRenderHTML_EscapesAndInteractivity(t *testing.T) {
	a := llm.Analysis{
		Summary:    `uses <script> & "quotes"`,
		Functional: []string{"render <b>bold</b>"},
	}
	out := string(renderHTML("spec.txt", a, prefs.FeatureBundle{}))
	if strings.Contains(out, "<script>") {
		t.Fatalf("unescaped markup in output: %s", out)
	}
	if !strings.Contains(out, "uses &lt;script&gt; &amp; &quot;quotes&quot;") {
		t.Fatalf("summary not escaped: %s", out)
	}
	if !strings.Contains(out, "render &lt;b&gt;bold&lt;/b&gt;") {
		t.Fatalf("list item not escaped: %s", out)
	}

	interactive := string(renderHTML("spec.txt", a, prefs.FeatureBundle{Interactive: true}))
	if !strings.Contains(interactive, "<script>document.querySelectorAll") {
		t.Fatal("interactive script missing")
	}
}

func TestReportTitle(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"project-brief.txt", "project brief requirements analysis"},
		{"my_spec.pdf", "my spec requirements analysis"},
		{"plain", "plain requirements analysis"},
		{".hidden", ".hidden requirements analysis"},
	}
	for _, tc := range cases {
		if got := reportTitle(tc.filename); got != tc.want {
			t.Fatalf("reportTitle(%q) = %q; want %q", tc.filename, got, tc.want)
		}
	}
}
