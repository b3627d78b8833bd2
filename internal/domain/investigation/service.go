package investigation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresight/caresight/internal/domain/fieldvisit"
	"github.com/caresight/caresight/internal/platform/auth"
	"github.com/caresight/caresight/internal/platform/notification"
)

// Refiner computes one diagnostic refinement round. *Engine is the production
// implementation.
type Refiner interface {
	Refine(ctx context.Context, caseContext string, evidence fieldvisit.Bundle) (*RefinementResult, error)
}

// Notifier is the fire-and-forget message side channel. Implementations must
// never return an error or block a state transition.
type Notifier interface {
	Notify(ctx context.Context, investigationID uuid.UUID, audience notification.Audience, body string)
}

// Service drives an investigation through its lifecycle. All state changes go
// through conditional repository writes so a stale caller gets
// ErrConcurrentModification instead of clobbering a concurrent transition.
type Service struct {
	repo     Repository
	refiner  Refiner
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(repo Repository, refiner Refiner, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		refiner:  refiner,
		notifier: notifier,
		logger:   logger.With().Str("component", "investigation").Logger(),
	}
}

// Open creates a new investigation in under_review from a completed intake
// interview and announces it to the clinician pool.
func (s *Service) Open(ctx context.Context, patientID uuid.UUID, patientName, intakeSummary string) (*Investigation, error) {
	inv := &Investigation{
		ID:                  uuid.New(),
		PatientID:           patientID,
		PatientName:         patientName,
		Status:              StatusUnderReview,
		IntakeSummary:       intakeSummary,
		LastActivitySummary: "intake interview completed",
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, inv.ID, notification.AudienceClinicians,
		fmt.Sprintf("New case for %s is awaiting review", patientName))
	return inv, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Investigation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Investigation, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Investigation, int, error) {
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

func (s *Service) ListByFieldWorker(ctx context.Context, workerID uuid.UUID, limit, offset int) ([]*Investigation, int, error) {
	return s.repo.ListByFieldWorker(ctx, workerID, limit, offset)
}

func (s *Service) ListByClinician(ctx context.Context, clinicianID uuid.UUID, limit, offset int) ([]*Investigation, int, error) {
	return s.repo.ListByClinician(ctx, clinicianID, limit, offset)
}

func (s *Service) Steps(ctx context.Context, id uuid.UUID) ([]*Step, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Steps(ctx, id)
}

func (s *Service) StatusHistory(ctx context.Context, id uuid.UUID) ([]*StatusChange, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.StatusHistory(ctx, id)
}

// ClaimReview assigns the case to a clinician. A clinician who already holds
// the review may claim again without effect.
func (s *Service) ClaimReview(ctx context.Context, id, clinicianID uuid.UUID) error {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != StatusUnderReview {
		return fmt.Errorf("%w: cannot claim a case in status %q", ErrInvalidTransition, inv.Status)
	}
	if inv.ReviewingClinicianID != nil && *inv.ReviewingClinicianID != clinicianID {
		return fmt.Errorf("%w: case is already claimed by another clinician", ErrAuthorizationDenied)
	}
	return s.repo.ClaimReview(ctx, id, clinicianID, StatusUnderReview)
}

// Dispatch attaches the clinician's plan, assigns the field worker and moves
// the case to awaiting_field_visit. Dispatching an unclaimed case claims it.
func (s *Service) Dispatch(ctx context.Context, id, clinicianID, workerID uuid.UUID, plan *ClinicianPlan) error {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != StatusUnderReview {
		return fmt.Errorf("%w: cannot dispatch a case in status %q", ErrInvalidTransition, inv.Status)
	}
	if err := s.requireReviewer(inv, clinicianID); err != nil {
		return err
	}
	if plan == nil || (len(plan.SuggestedLabTests) == 0 && len(plan.RequiredFeedback) == 0) {
		return fmt.Errorf("%w: a dispatch plan must require at least one lab test or feedback modality", ErrInvalidTransition)
	}
	if inv.ReviewingClinicianID == nil {
		if err := s.repo.ClaimReview(ctx, id, clinicianID, StatusUnderReview); err != nil {
			return err
		}
	}
	if err := s.repo.Dispatch(ctx, id, clinicianID, &workerID, plan, StatusUnderReview, StatusAwaitingFieldVisit); err != nil {
		return err
	}
	s.notifier.Notify(ctx, id, notification.AudienceFieldWorkers,
		fmt.Sprintf("Field visit requested for %s", inv.PatientName))
	s.notifier.Notify(ctx, id, notification.AudiencePatient,
		"A field worker has been dispatched to collect samples")
	return nil
}

// Reject closes the case without a diagnosis. Terminal.
func (s *Service) Reject(ctx context.Context, id, clinicianID uuid.UUID, reason string) error {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != StatusUnderReview {
		return fmt.Errorf("%w: cannot reject a case in status %q", ErrInvalidTransition, inv.Status)
	}
	if err := s.requireReviewer(inv, clinicianID); err != nil {
		return err
	}
	if reason == "" {
		reason = "rejected by clinician"
	}
	if err := s.repo.Transition(ctx, id, clinicianID, StatusUnderReview, StatusRejected, reason); err != nil {
		return err
	}
	s.notifier.Notify(ctx, id, notification.AudiencePatient,
		"Your case was closed by the reviewing clinician")
	return nil
}

// SubmitFieldVisit accepts a field worker's evidence bundle, runs a
// refinement round over it and, only if the round fully succeeds, appends the
// step and moves the case to pending_final_review in one transaction. A
// refinement failure leaves the case exactly as it was.
func (s *Service) SubmitFieldVisit(ctx context.Context, id, workerID uuid.UUID, bundle fieldvisit.Bundle) (*Step, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusAwaitingFieldVisit && inv.Status != StatusAwaitingFollowUpVisit {
		return nil, fmt.Errorf("%w: cannot submit evidence for a case in status %q", ErrInvalidTransition, inv.Status)
	}
	if inv.FieldWorkerID == nil || *inv.FieldWorkerID != workerID {
		return nil, fmt.Errorf("%w: evidence may only be submitted by the dispatched field worker", ErrAuthorizationDenied)
	}

	req := s.visitRequirements(inv)
	if result := fieldvisit.Validate(req, bundle); !result.Satisfied {
		return nil, &IncompleteEvidenceError{Missing: result}
	}

	steps, err := s.repo.Steps(ctx, id)
	if err != nil {
		return nil, err
	}
	caseContext, err := buildCaseContext(inv, steps)
	if err != nil {
		return nil, err
	}

	analysis, err := s.refiner.Refine(ctx, caseContext, bundle)
	if err != nil {
		return nil, err
	}
	// The parser already enforces this, but the step log is permanent so the
	// coherence of the termination signal is re-checked before committing.
	if analysis.IsFinalDiagnosisPossible && len(analysis.NextSteps.AdditionalLabTests) > 0 {
		return nil, fmt.Errorf("%w: incoherent termination signal", ErrRefinementUnavailable)
	}

	step := &Step{
		ID:              uuid.New(),
		InvestigationID: id,
		Type:            StepTypeFieldVisit,
		SubmittedBy:     workerID,
		Evidence:        bundle,
		Analysis:        *analysis,
		CreatedAt:       time.Now().UTC(),
	}
	if inv.Status == StatusAwaitingFollowUpVisit {
		step.FollowUp = inv.FollowUp
	}

	var newLabTests []string
	if !analysis.IsFinalDiagnosisPossible {
		newLabTests = analysis.NextSteps.AdditionalLabTests
	}
	summary := truncate("Evidence analyzed: "+analysis.RefinedAnalysis, 160)
	if err := s.repo.AppendStep(ctx, step, inv.Status, StatusPendingFinalReview, newLabTests, summary); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("New evidence for %s is awaiting review (urgency: %s)", inv.PatientName, analysis.Urgency)
	s.notifier.Notify(ctx, id, notification.AudienceClinicians, body)
	return step, nil
}

// RequestFollowUp sends a pending_final_review case back to the field for
// more feedback. When the latest analysis already allows a final diagnosis
// the clinician must pass force to override it.
func (s *Service) RequestFollowUp(ctx context.Context, id, clinicianID uuid.UUID, note string, feedback []fieldvisit.Modality, force bool) error {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != StatusPendingFinalReview {
		return fmt.Errorf("%w: cannot request a follow-up visit for a case in status %q", ErrInvalidTransition, inv.Status)
	}
	if err := s.requireReviewer(inv, clinicianID); err != nil {
		return err
	}
	if len(feedback) == 0 {
		return fmt.Errorf("%w: a follow-up request must name at least one feedback modality", ErrInvalidTransition)
	}
	steps, err := s.repo.Steps(ctx, id)
	if err != nil {
		return err
	}
	if len(steps) > 0 && steps[len(steps)-1].Analysis.IsFinalDiagnosisPossible && !force {
		return fmt.Errorf("%w: the latest analysis allows a final diagnosis; pass force to request more evidence anyway", ErrInvalidTransition)
	}

	req := &FollowUpRequest{
		Note:             note,
		RequiredFeedback: feedback,
		RequestedBy:      clinicianID,
		RequestedAt:      time.Now().UTC(),
	}
	if err := s.repo.SetFollowUp(ctx, id, clinicianID, req, StatusPendingFinalReview, StatusAwaitingFollowUpVisit); err != nil {
		return err
	}
	s.notifier.Notify(ctx, id, notification.AudienceFieldWorkers,
		fmt.Sprintf("Follow-up visit requested for %s", inv.PatientName))
	return nil
}

// Finalize closes the case with the latest analysis as the terminal
// diagnosis and treatment plan.
func (s *Service) Finalize(ctx context.Context, id, clinicianID uuid.UUID) error {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != StatusPendingFinalReview {
		return fmt.Errorf("%w: cannot finalize a case in status %q", ErrInvalidTransition, inv.Status)
	}
	if err := s.requireReviewer(inv, clinicianID); err != nil {
		return err
	}
	if err := s.repo.Transition(ctx, id, clinicianID, StatusPendingFinalReview, StatusCompleted, "diagnosis finalized"); err != nil {
		return err
	}
	s.notifier.Notify(ctx, id, notification.AudiencePatient,
		"Your diagnosis and treatment plan are ready")
	return nil
}

// AuthorizedFor reports whether the actor may read this case. Clinicians may
// read any case; patients and field workers only their own.
func (s *Service) AuthorizedFor(inv *Investigation, actorID uuid.UUID, role string) bool {
	switch role {
	case auth.RoleClinician, auth.RoleAdmin:
		return true
	case auth.RolePatient:
		return inv.PatientID == actorID
	case auth.RoleFieldWorker:
		return inv.FieldWorkerID != nil && *inv.FieldWorkerID == actorID
	}
	return false
}

func (s *Service) requireReviewer(inv *Investigation, clinicianID uuid.UUID) error {
	if inv.ReviewingClinicianID != nil && *inv.ReviewingClinicianID != clinicianID {
		return fmt.Errorf("%w: case is claimed by another clinician", ErrAuthorizationDenied)
	}
	return nil
}

func (s *Service) visitRequirements(inv *Investigation) fieldvisit.Requirements {
	if inv.Status == StatusAwaitingFollowUpVisit && inv.FollowUp != nil {
		return fieldvisit.Requirements{Feedback: inv.FollowUp.RequiredFeedback}
	}
	var req fieldvisit.Requirements
	if inv.Plan != nil {
		req.LabTests = inv.Plan.SuggestedLabTests
		req.Feedback = inv.Plan.RequiredFeedback
	}
	return req
}

// caseContext is the serialized record handed to the refinement engine. The
// engine is stateless, so every round receives the whole history.
type caseContext struct {
	PatientName   string           `json:"patient_name"`
	IntakeSummary string           `json:"intake_summary"`
	Plan          *ClinicianPlan   `json:"plan,omitempty"`
	FollowUp      *FollowUpRequest `json:"follow_up,omitempty"`
	PriorRounds   []priorRound     `json:"prior_rounds"`
}

type priorRound struct {
	Seq      int               `json:"seq"`
	Evidence fieldvisit.Bundle `json:"evidence"`
	Analysis RefinementResult  `json:"analysis"`
}

func buildCaseContext(inv *Investigation, steps []*Step) (string, error) {
	cc := caseContext{
		PatientName:   inv.PatientName,
		IntakeSummary: inv.IntakeSummary,
		Plan:          inv.Plan,
		FollowUp:      inv.FollowUp,
		PriorRounds:   make([]priorRound, 0, len(steps)),
	}
	for _, st := range steps {
		cc.PriorRounds = append(cc.PriorRounds, priorRound{Seq: st.Seq, Evidence: st.Evidence, Analysis: st.Analysis})
	}
	out, err := json.Marshal(cc)
	if err != nil {
		return "", fmt.Errorf("assemble case context: %w", err)
	}
	return string(out), nil
}

// truncate caps s at max bytes, backing up so the cut never splits a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
