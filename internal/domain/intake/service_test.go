package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresight/caresight/internal/domain/investigation"
	"github.com/caresight/caresight/internal/platform/ai"
	"github.com/caresight/caresight/internal/platform/wallet"
)

type mockDebiter struct {
	fail    error
	charges []int64
}

func (m *mockDebiter) Debit(_ context.Context, _ uuid.UUID, amountCents int64, _ string) error {
	if m.fail != nil {
		return m.fail
	}
	m.charges = append(m.charges, amountCents)
	return nil
}

type mockOpener struct {
	opened  []string
	lastInv *investigation.Investigation
}

func (m *mockOpener) Open(_ context.Context, patientID uuid.UUID, patientName, intakeSummary string) (*investigation.Investigation, error) {
	m.opened = append(m.opened, intakeSummary)
	m.lastInv = &investigation.Investigation{
		ID:            uuid.New(),
		PatientID:     patientID,
		PatientName:   patientName,
		Status:        investigation.StatusUnderReview,
		IntakeSummary: intakeSummary,
	}
	return m.lastInv, nil
}

func fullTranscript() []Entry {
	var transcript []Entry
	for i := 1; i <= TotalQuestions; i++ {
		transcript = append(transcript,
			Entry{Speaker: SpeakerInterviewer, Text: fmt.Sprintf("question %d", i)},
			Entry{Speaker: SpeakerPatient, Text: fmt.Sprintf("answer %d", i)},
		)
	}
	return transcript
}

func newTestService(client ai.Client, debiter *mockDebiter, opener *mockOpener) *Service {
	iv := NewInterviewer(client, zerolog.Nop())
	return NewService(iv, client, debiter, opener, 500, zerolog.Nop())
}

func TestStart_ChargesFee(t *testing.T) {
	debiter := &mockDebiter{}
	svc := newTestService(ai.NewFakeClient(), debiter, &mockOpener{})

	greeting, err := svc.Start(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if greeting != Greeting {
		t.Errorf("unexpected greeting %q", greeting)
	}
	if len(debiter.charges) != 1 || debiter.charges[0] != 500 {
		t.Errorf("charges = %v, want [500]", debiter.charges)
	}
}

func TestStart_InsufficientFunds(t *testing.T) {
	debiter := &mockDebiter{fail: wallet.ErrInsufficientFunds}
	svc := newTestService(ai.NewFakeClient(), debiter, &mockOpener{})

	if _, err := svc.Start(context.Background(), uuid.New()); !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestComplete_OpensCaseWithSummary(t *testing.T) {
	opener := &mockOpener{}
	client := ai.NewFakeClient(ai.FakeReply{Content: "34-year-old with two weeks of fatigue, no fever, on no medication."})
	svc := newTestService(client, &mockDebiter{}, opener)

	patientID := uuid.New()
	inv, err := svc.Complete(context.Background(), patientID, "Amina Yusuf", fullTranscript())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if inv.Status != investigation.StatusUnderReview {
		t.Errorf("status = %q, want under_review", inv.Status)
	}
	if inv.PatientID != patientID || inv.PatientName != "Amina Yusuf" {
		t.Errorf("patient fields not carried: %+v", inv)
	}
	if len(opener.opened) != 1 || opener.opened[0] == "" {
		t.Errorf("case not opened with a summary: %v", opener.opened)
	}
}

func TestComplete_RejectsShortTranscript(t *testing.T) {
	svc := newTestService(ai.NewFakeClient(ai.FakeReply{Content: "summary"}), &mockDebiter{}, &mockOpener{})

	transcript := fullTranscript()[:8]
	if _, err := svc.Complete(context.Background(), uuid.New(), "Amina Yusuf", transcript); !errors.Is(err, ErrInterviewIncomplete) {
		t.Errorf("got %v, want ErrInterviewIncomplete", err)
	}
}

func TestComplete_RejectsUnansweredFinalQuestion(t *testing.T) {
	svc := newTestService(ai.NewFakeClient(ai.FakeReply{Content: "summary"}), &mockDebiter{}, &mockOpener{})

	transcript := fullTranscript()[:2*TotalQuestions-1]
	if _, err := svc.Complete(context.Background(), uuid.New(), "Amina Yusuf", transcript); !errors.Is(err, ErrInterviewIncomplete) {
		t.Errorf("got %v, want ErrInterviewIncomplete", err)
	}
}

func TestComplete_SummaryFailureDoesNotOpenCase(t *testing.T) {
	opener := &mockOpener{}
	svc := newTestService(ai.NewFakeClient(ai.FakeReply{Err: ai.ErrNoOutput}), &mockDebiter{}, opener)

	if _, err := svc.Complete(context.Background(), uuid.New(), "Amina Yusuf", fullTranscript()); !errors.Is(err, ErrInferenceUnavailable) {
		t.Fatalf("got %v, want ErrInferenceUnavailable", err)
	}
	if len(opener.opened) != 0 {
		t.Error("case opened despite summary failure")
	}
}
