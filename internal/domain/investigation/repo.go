package investigation

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists investigations, their append-only step log and the
// status audit trail.
//
// Every status-changing method takes the status the caller observed and must
// apply the change only if the row still carries that status, returning
// ErrConcurrentModification otherwise. Methods that change status and write
// other rows (steps, audit trail) must do so in a single transaction.
type Repository interface {
	Create(ctx context.Context, inv *Investigation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Investigation, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Investigation, int, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Investigation, int, error)
	ListByClinician(ctx context.Context, clinicianID uuid.UUID, limit, offset int) ([]*Investigation, int, error)
	ListByFieldWorker(ctx context.Context, workerID uuid.UUID, limit, offset int) ([]*Investigation, int, error)

	// ClaimReview assigns the reviewing clinician. It only succeeds while the
	// case is in from and no other clinician holds the review.
	ClaimReview(ctx context.Context, id, clinicianID uuid.UUID, from Status) error

	// Dispatch stores the plan, assigns the field worker and moves the case
	// from -> to.
	Dispatch(ctx context.Context, id, actorID uuid.UUID, workerID *uuid.UUID, plan *ClinicianPlan, from, to Status) error

	// Transition moves the case from -> to without touching anything else.
	Transition(ctx context.Context, id, actorID uuid.UUID, from, to Status, reason string) error

	// SetFollowUp stores the follow-up request and moves the case from -> to.
	SetFollowUp(ctx context.Context, id, actorID uuid.UUID, req *FollowUpRequest, from, to Status) error

	// AppendStep atomically appends the step, moves the case from -> to,
	// clears any pending follow-up request and, when newLabTests is non-nil,
	// replaces the plan's suggested lab tests with it.
	AppendStep(ctx context.Context, step *Step, from, to Status, newLabTests []string, activitySummary string) error

	Steps(ctx context.Context, id uuid.UUID) ([]*Step, error)
	StatusHistory(ctx context.Context, id uuid.UUID) ([]*StatusChange, error)
}
