package domain

import "testing"

func TestStageNext_WalksPipelineInOrder(t *testing.T) {
	cases := []struct {
		from   Stage
		want   Stage
		wantOK bool
	}{
		{StageUploaded, StageExtracting, true},
		{StageExtracting, StageAnalyzing, true},
		{StageAnalyzing, StageAnalyzed, true},
		{StageAnalyzed, StageFormatting, true},
		{StageFormatting, StageDelivering, true},
		{StageDelivering, StageDelivered, true},
		{StageDelivered, "", false},
		{Stage("bogus"), "", false},
	}

	for _, tc := range cases {
		got, ok := tc.from.Next()
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("Next(%q) = (%q, %v); want (%q, %v)", tc.from, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestStageCanAdvance_OnlyImmediateSuccessor(t *testing.T) {
	if !StageUploaded.CanAdvance(StageExtracting) {
		t.Fatal("uploaded -> extracting should be legal")
	}
	// Skipping a stage is never legal.
	if StageUploaded.CanAdvance(StageAnalyzing) {
		t.Fatal("uploaded -> analyzing should be illegal")
	}
	// Moving backwards is never legal.
	if StageAnalyzing.CanAdvance(StageExtracting) {
		t.Fatal("analyzing -> extracting should be illegal")
	}
	if StageDelivered.CanAdvance(StageUploaded) {
		t.Fatal("delivered is final")
	}
}

func TestStageProgress_MonotonicAlongPipeline(t *testing.T) {
	prev := -1
	for _, s := range stageOrder {
		p := s.Progress()
		if p <= prev {
			t.Fatalf("progress for %q = %d; not greater than previous %d", s, p, prev)
		}
		prev = p
	}
	if StageDelivered.Progress() != 100 {
		t.Fatalf("delivered progress = %d; want 100", StageDelivered.Progress())
	}
	if Stage("bogus").Progress() != 0 {
		t.Fatalf("unknown stage progress = %d; want 0", Stage("bogus").Progress())
	}
}

func TestStatusForStage(t *testing.T) {
	cases := []struct {
		stage Stage
		want  Status
	}{
		{StageUploaded, StatusUploaded},
		{StageExtracting, StatusProcessing},
		{StageAnalyzing, StatusProcessing},
		{StageAnalyzed, StatusProcessing},
		{StageFormatting, StatusProcessing},
		{StageDelivering, StatusProcessing},
		{StageDelivered, StatusDelivered},
	}

	for _, tc := range cases {
		if got := StatusForStage(tc.stage); got != tc.want {
			t.Fatalf("StatusForStage(%q) = %q; want %q", tc.stage, got, tc.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusDelivered.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("delivered and failed must be terminal")
	}
	if StatusUploaded.Terminal() || StatusProcessing.Terminal() {
		t.Fatal("uploaded and processing must not be terminal")
	}
}
