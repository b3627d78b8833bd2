package investigation

import (
	"time"

	"github.com/google/uuid"

	"github.com/caresight/caresight/internal/domain/fieldvisit"
)

// Status is the lifecycle state of an investigation. The set is closed:
// every status change goes through the transition table below.
type Status string

const (
	StatusUnderReview           Status = "under_review"
	StatusAwaitingFieldVisit    Status = "awaiting_field_visit"
	StatusAwaitingFollowUpVisit Status = "awaiting_follow_up_visit"
	StatusPendingFinalReview    Status = "pending_final_review"
	StatusCompleted             Status = "completed"
	StatusRejected              Status = "rejected"
)

// statusTransitions defines the valid status transitions for an investigation.
// Completed and rejected are terminal.
var statusTransitions = map[Status][]Status{
	StatusUnderReview:           {StatusAwaitingFieldVisit, StatusRejected},
	StatusAwaitingFieldVisit:    {StatusPendingFinalReview},
	StatusAwaitingFollowUpVisit: {StatusPendingFinalReview},
	StatusPendingFinalReview:    {StatusAwaitingFollowUpVisit, StatusCompleted},
	StatusCompleted:             {},
	StatusRejected:              {},
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransitionTo reports whether the transition s -> to is allowed.
func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s.Valid() && len(statusTransitions[s]) == 0
}

// ClinicianPlan is the dispatch plan a clinician attaches when sending a case
// to the field. SuggestedLabTests may later be replaced wholesale by the
// refinement engine's recommendations, never edited in place.
type ClinicianPlan struct {
	PreliminaryMedications []string              `json:"preliminary_medications,omitempty"`
	SuggestedLabTests      []string              `json:"suggested_lab_tests"`
	RequiredFeedback       []fieldvisit.Modality `json:"required_feedback,omitempty"`
	NoteToFieldWorker      string                `json:"note_to_field_worker,omitempty"`
}

// FollowUpRequest captures a clinician's request for another field visit on a
// case that is pending final review. It is consumed by the next submission.
type FollowUpRequest struct {
	Note             string                `json:"note"`
	RequiredFeedback []fieldvisit.Modality `json:"required_feedback,omitempty"`
	RequestedBy      uuid.UUID             `json:"requested_by"`
	RequestedAt      time.Time             `json:"requested_at"`
}

// StepType identifies what produced an investigation step.
type StepType string

const (
	// StepTypeFieldVisit is a field worker evidence submission together with
	// the refinement analysis it produced.
	StepTypeFieldVisit StepType = "field_visit"
)

// Step is one immutable entry in an investigation's append-only log. A step
// records the evidence a field worker submitted and the refinement analysis
// computed from it, committed together with the status transition.
type Step struct {
	ID              uuid.UUID         `json:"id"`
	InvestigationID uuid.UUID         `json:"investigation_id"`
	Seq             int               `json:"seq"`
	Type            StepType          `json:"type"`
	SubmittedBy     uuid.UUID         `json:"submitted_by"`
	Evidence        fieldvisit.Bundle `json:"evidence"`
	Analysis        RefinementResult  `json:"analysis"`
	FollowUp        *FollowUpRequest  `json:"follow_up,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Investigation is the aggregate for one diagnostic case, from intake through
// terminal diagnosis or rejection.
type Investigation struct {
	ID                   uuid.UUID        `json:"id"`
	PatientID            uuid.UUID        `json:"patient_id"`
	PatientName          string           `json:"patient_name"`
	Status               Status           `json:"status"`
	IntakeSummary        string           `json:"intake_summary"`
	ReviewingClinicianID *uuid.UUID       `json:"reviewing_clinician_id,omitempty"`
	FieldWorkerID        *uuid.UUID       `json:"field_worker_id,omitempty"`
	Plan                 *ClinicianPlan   `json:"plan,omitempty"`
	FollowUp             *FollowUpRequest `json:"follow_up,omitempty"`
	LastActivitySummary  string           `json:"last_activity_summary,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// StatusChange is one row of the status audit trail.
type StatusChange struct {
	ID              uuid.UUID `json:"id"`
	InvestigationID uuid.UUID `json:"investigation_id"`
	FromStatus      *Status   `json:"from_status,omitempty"`
	ToStatus        Status    `json:"to_status"`
	ActorID         uuid.UUID `json:"actor_id"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
