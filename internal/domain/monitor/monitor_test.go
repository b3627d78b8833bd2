package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresight/caresight/internal/domain/investigation"
	"github.com/caresight/caresight/internal/platform/ai"
	"github.com/caresight/caresight/internal/platform/notification"
)

type mockCaseSource struct {
	inv   *investigation.Investigation
	steps []*investigation.Step
}

func (m *mockCaseSource) Get(_ context.Context, id uuid.UUID) (*investigation.Investigation, error) {
	if m.inv == nil || m.inv.ID != id {
		return nil, investigation.ErrNotFound
	}
	return m.inv, nil
}

func (m *mockCaseSource) Steps(_ context.Context, _ uuid.UUID) ([]*investigation.Step, error) {
	return m.steps, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification.Audience
}

func (n *recordingNotifier) Notify(_ context.Context, _ uuid.UUID, audience notification.Audience, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, audience)
}

func completedCase() (*mockCaseSource, uuid.UUID) {
	id := uuid.New()
	return &mockCaseSource{
		inv: &investigation.Investigation{
			ID:            id,
			PatientID:     uuid.New(),
			PatientName:   "Amina Yusuf",
			Status:        investigation.StatusCompleted,
			IntakeSummary: "fatigue, pallor",
		},
		steps: []*investigation.Step{{
			Seq: 1,
			Analysis: investigation.RefinementResult{
				RefinedAnalysis:          "iron deficiency anemia",
				IsFinalDiagnosisPossible: true,
				NextSteps:                investigation.NextSteps{Medications: []string{"ferrous sulfate"}},
			},
		}},
	}, id
}

func TestAssess_Stable(t *testing.T) {
	cases, id := completedCase()
	notifier := &recordingNotifier{}
	client := ai.NewFakeClient(ai.FakeReply{Content: `{
		"progress_summary": "hemoglobin trending up",
		"is_improving": true,
		"escalate": false,
		"recommendation": "continue current treatment"
	}`})
	svc := NewService(cases, client, notifier, zerolog.Nop())

	a, err := svc.Assess(context.Background(), id, "hb 11.2, hr 78")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !a.IsImproving || a.Escalate {
		t.Errorf("unexpected assessment: %+v", a)
	}
	if len(notifier.calls) != 0 {
		t.Errorf("notification sent without escalation: %v", notifier.calls)
	}
}

func TestAssess_EscalationNotifiesClinicians(t *testing.T) {
	cases, id := completedCase()
	notifier := &recordingNotifier{}
	client := ai.NewFakeClient(ai.FakeReply{Content: `{
		"progress_summary": "worsening tachycardia",
		"is_improving": false,
		"escalate": true,
		"recommendation": "urgent clinician review"
	}`})
	svc := NewService(cases, client, notifier, zerolog.Nop())

	a, err := svc.Assess(context.Background(), id, "hb 7.9, hr 130")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !a.Escalate {
		t.Fatal("expected escalation")
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != notification.AudienceClinicians {
		t.Errorf("escalation did not notify clinicians: %v", notifier.calls)
	}
}

func TestAssess_RequiresCompletedCase(t *testing.T) {
	cases, id := completedCase()
	cases.inv.Status = investigation.StatusPendingFinalReview
	svc := NewService(cases, ai.NewFakeClient(), &recordingNotifier{}, zerolog.Nop())

	if _, err := svc.Assess(context.Background(), id, "hb 10"); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("got %v, want ErrNotCompleted", err)
	}
}

func TestAssess_FailsClosedOnBadOutput(t *testing.T) {
	for name, reply := range map[string]ai.FakeReply{
		"error":           {Err: ai.ErrNoOutput},
		"not json":        {Content: "the patient seems fine"},
		"missing summary": {Content: `{"is_improving": true, "escalate": false, "recommendation": "rest"}`},
	} {
		t.Run(name, func(t *testing.T) {
			cases, id := completedCase()
			svc := NewService(cases, ai.NewFakeClient(reply), &recordingNotifier{}, zerolog.Nop())
			if _, err := svc.Assess(context.Background(), id, "hb 10"); !errors.Is(err, ErrAssessmentUnavailable) {
				t.Errorf("got %v, want ErrAssessmentUnavailable", err)
			}
		})
	}
}

func TestAssess_UnknownCase(t *testing.T) {
	cases, _ := completedCase()
	svc := NewService(cases, ai.NewFakeClient(), &recordingNotifier{}, zerolog.Nop())

	if _, err := svc.Assess(context.Background(), uuid.New(), "hb 10"); !errors.Is(err, investigation.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
