// Package domain defines the persistence models and lifecycle rules for
// document processing requests. This file encodes the request state machine:
// the ordered pipeline stages, the coarse user-facing statuses derived from
// them, and the fixed stage-to-progress table used by the status API.
package domain

// Stage is a fine-grained pipeline position for a request. Stages advance
// strictly in the order of the pipeline; the only exception is the jump to
// failure, which is modeled on Status rather than Stage.
type Stage string

// Pipeline stages, in processing order.
const (
	StageUploaded   Stage = "uploaded"
	StageExtracting Stage = "extracting"
	StageAnalyzing  Stage = "analyzing"
	StageAnalyzed   Stage = "analyzed"
	StageFormatting Stage = "formatting"
	StageDelivering Stage = "delivering"
	StageDelivered  Stage = "delivered"
)

// stageOrder lists all stages in pipeline order. Transition validity and
// progress reporting are both derived from this single table.
var stageOrder = []Stage{
	StageUploaded,
	StageExtracting,
	StageAnalyzing,
	StageAnalyzed,
	StageFormatting,
	StageDelivering,
	StageDelivered,
}

// stageProgress maps each stage to a monotonic completion percentage.
// Values only ever increase along stageOrder, so a status poller observes a
// non-decreasing progress_percentage.
var stageProgress = map[Stage]int{
	StageUploaded:   5,
	StageExtracting: 15,
	StageAnalyzing:  40,
	StageAnalyzed:   60,
	StageFormatting: 75,
	StageDelivering: 90,
	StageDelivered:  100,
}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	_, ok := stageProgress[s]
	return ok
}

// Next returns the stage that directly follows s in the pipeline. The second
// return value is false when s is the last stage or unknown.
func (s Stage) Next() (Stage, bool) {
	for i, st := range stageOrder {
		if st == s {
			if i+1 < len(stageOrder) {
				return stageOrder[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// CanAdvance reports whether a transition from s directly to next is legal,
// i.e. next is the immediate successor of s in the pipeline.
func (s Stage) CanAdvance(next Stage) bool {
	n, ok := s.Next()
	return ok && n == next
}

// Progress returns the completion percentage for s; unknown stages report 0.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// Status is the coarse, user-facing request state. It is derived from Stage
// for live requests and pinned for terminal outcomes.
type Status string

// Request statuses.
const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a terminal status. Terminal records accept no
// further mutation of any kind.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// StatusForStage derives the coarse status shown to callers from a stage.
func StatusForStage(stage Stage) Status {
	switch stage {
	case StageUploaded:
		return StatusUploaded
	case StageDelivered:
		return StatusDelivered
	default:
		return StatusProcessing
	}
}

// Error kinds recorded on a failed request. These mirror the API error
// taxonomy so a failed record explains itself through the status endpoint.
const (
	ErrKindValidation = "validation_error"
	ErrKindUpstream   = "upstream_error"
	ErrKindInternal   = "internal_error"
)
