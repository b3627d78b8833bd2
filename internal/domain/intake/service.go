package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresight/caresight/internal/domain/investigation"
	"github.com/caresight/caresight/internal/platform/ai"
)

const summarySystemPrompt = `You are a medical scribe. Summarize the following intake interview into a
concise opening case record for a reviewing clinician: presenting complaint, history, relevant
negatives, medications and allergies. Plain prose, no headings, no diagnosis.`

// Debiter charges an actor's prepaid balance. *wallet.Service is the
// production implementation.
type Debiter interface {
	Debit(ctx context.Context, actorID uuid.UUID, amountCents int64, reason string) error
}

// CaseOpener creates the investigation once the interview concludes.
// *investigation.Service is the production implementation.
type CaseOpener interface {
	Open(ctx context.Context, patientID uuid.UUID, patientName, intakeSummary string) (*investigation.Investigation, error)
}

// Service runs intake end to end: the fee is charged when the interview
// starts, questions are generated turn by turn, and a completed transcript is
// summarized into the opening case record.
type Service struct {
	interviewer *Interviewer
	client      ai.Client
	wallet      Debiter
	opener      CaseOpener
	feeCents    int64
	logger      zerolog.Logger
}

func NewService(interviewer *Interviewer, client ai.Client, wallet Debiter, opener CaseOpener, feeCents int64, logger zerolog.Logger) *Service {
	return &Service{
		interviewer: interviewer,
		client:      client,
		wallet:      wallet,
		opener:      opener,
		feeCents:    feeCents,
		logger:      logger.With().Str("component", "intake").Logger(),
	}
}

// Start charges the intake fee and returns the greeting. The fee gates the
// interview itself, not case creation, so an abandoned interview is still
// paid for.
func (s *Service) Start(ctx context.Context, patientID uuid.UUID) (string, error) {
	if err := s.wallet.Debit(ctx, patientID, s.feeCents, "diagnostic investigation intake"); err != nil {
		return "", err
	}
	return Greeting, nil
}

// NextTurn returns the next interview question for the transcript.
func (s *Service) NextTurn(ctx context.Context, transcript []Entry) (*Turn, error) {
	return s.interviewer.NextTurn(ctx, transcript)
}

// Complete validates the finished transcript, condenses it into the opening
// case record and opens the investigation under review.
func (s *Service) Complete(ctx context.Context, patientID uuid.UUID, patientName string, transcript []Entry) (*investigation.Investigation, error) {
	if countQuestions(transcript) != TotalQuestions {
		return nil, fmt.Errorf("%w: %d of %d questions asked", ErrInterviewIncomplete, countQuestions(transcript), TotalQuestions)
	}
	if len(transcript) == 0 || transcript[len(transcript)-1].Speaker != SpeakerPatient {
		return nil, fmt.Errorf("%w: the final question has no answer", ErrInterviewIncomplete)
	}

	summary, err := s.summarize(ctx, transcript)
	if err != nil {
		return nil, err
	}
	return s.opener.Open(ctx, patientID, patientName, summary)
}

func (s *Service) summarize(ctx context.Context, transcript []Entry) (string, error) {
	var b strings.Builder
	for _, e := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Text)
	}
	reply, err := s.client.Complete(ctx, ai.Request{System: summarySystemPrompt, User: b.String()})
	if err != nil {
		s.logger.Warn().Err(err).Msg("intake summary failed")
		return "", fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
	}
	summary := strings.TrimSpace(reply)
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", ErrInferenceUnavailable)
	}
	return summary, nil
}
