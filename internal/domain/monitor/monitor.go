// Package monitor runs progress checks against completed investigations. A
// check is a single independent inference call: it never mutates the case and
// never participates in the investigation lifecycle.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresight/caresight/internal/domain/investigation"
	"github.com/caresight/caresight/internal/platform/ai"
	"github.com/caresight/caresight/internal/platform/notification"
)

var (
	// ErrNotCompleted means the case has no approved plan to assess against.
	ErrNotCompleted = errors.New("progress checks require a completed case")

	// ErrAssessmentUnavailable means the inference call produced no valid
	// output. No fallback assessment is ever synthesized.
	ErrAssessmentUnavailable = errors.New("assessment unavailable")
)

// Assessment is the outcome of one progress check. Escalate overrides
// whatever the recommendation says: when true the clinician pool is notified
// regardless of the narrative.
type Assessment struct {
	ProgressSummary string `json:"progress_summary"`
	IsImproving     bool   `json:"is_improving"`
	Escalate        bool   `json:"escalate"`
	Recommendation  string `json:"recommendation"`
}

const assessSystemPrompt = `You are monitoring a patient recovering under an approved treatment plan.
Given the case snapshot and newly reported vitals, judge the trajectory.

Respond with a single JSON object and nothing else, using exactly these keys:
{
  "progress_summary": "how the patient is doing against the plan",
  "is_improving": true or false,
  "escalate": true or false,
  "recommendation": "what the patient or care team should do next"
}

Set escalate to true only when the vitals suggest deterioration that needs clinician attention.`

// CaseSource reads the case under assessment. *investigation.Service is the
// production implementation.
type CaseSource interface {
	Get(ctx context.Context, id uuid.UUID) (*investigation.Investigation, error)
	Steps(ctx context.Context, id uuid.UUID) ([]*investigation.Step, error)
}

// Notifier is the clinician escalation channel.
type Notifier interface {
	Notify(ctx context.Context, investigationID uuid.UUID, audience notification.Audience, body string)
}

type Service struct {
	cases    CaseSource
	client   ai.Client
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(cases CaseSource, client ai.Client, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		cases:    cases,
		client:   client,
		notifier: notifier,
		logger:   logger.With().Str("component", "progress_monitor").Logger(),
	}
}

// Assess runs one progress check of newVitals against the case's approved
// plan. When the assessment escalates, the clinician pool is notified
// fire-and-forget before the assessment is returned.
func (s *Service) Assess(ctx context.Context, investigationID uuid.UUID, newVitals string) (*Assessment, error) {
	if strings.TrimSpace(newVitals) == "" {
		return nil, errors.New("no vitals supplied")
	}
	inv, err := s.cases.Get(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	if inv.Status != investigation.StatusCompleted {
		return nil, fmt.Errorf("%w: case is %q", ErrNotCompleted, inv.Status)
	}
	steps, err := s.cases.Steps(ctx, investigationID)
	if err != nil {
		return nil, err
	}

	snapshot, err := buildSnapshot(inv, steps)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.Complete(ctx, ai.Request{
		System:   assessSystemPrompt,
		User:     "CASE SNAPSHOT:\n" + snapshot + "\n\nNEW VITALS:\n" + newVitals,
		JSONOnly: true,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("assessment completion failed")
		return nil, fmt.Errorf("%w: %v", ErrAssessmentUnavailable, err)
	}

	assessment, err := parseAssessment(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("assessment output rejected")
		return nil, fmt.Errorf("%w: %v", ErrAssessmentUnavailable, err)
	}

	if assessment.Escalate {
		s.notifier.Notify(ctx, investigationID, notification.AudienceClinicians,
			fmt.Sprintf("Progress check for %s flagged deterioration", inv.PatientName))
	}
	return assessment, nil
}

type caseSnapshot struct {
	PatientName   string   `json:"patient_name"`
	IntakeSummary string   `json:"intake_summary"`
	Diagnosis     string   `json:"diagnosis,omitempty"`
	TreatmentPlan []string `json:"treatment_plan,omitempty"`
}

func buildSnapshot(inv *investigation.Investigation, steps []*investigation.Step) (string, error) {
	snap := caseSnapshot{
		PatientName:   inv.PatientName,
		IntakeSummary: inv.IntakeSummary,
	}
	if len(steps) > 0 {
		final := steps[len(steps)-1].Analysis
		snap.Diagnosis = final.RefinedAnalysis
		snap.TreatmentPlan = final.NextSteps.Medications
	}
	out, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("assemble snapshot: %w", err)
	}
	return string(out), nil
}

func parseAssessment(raw string) (*Assessment, error) {
	var a Assessment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	if strings.TrimSpace(a.ProgressSummary) == "" {
		return nil, fmt.Errorf("missing progress_summary")
	}
	if strings.TrimSpace(a.Recommendation) == "" {
		return nil, fmt.Errorf("missing recommendation")
	}
	return &a, nil
}
