package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/caresight/caresight/internal/platform/ai"
)

// Greeting opens every interview. It is static and does not count as one of
// the fifteen questions.
const Greeting = "Hello, I'm here to gather some information about your health so a clinician can review your case. I'll ask you fifteen short questions. Let's begin whenever you're ready."

const interviewSystemPrompt = `You are a careful, empathetic medical intake interviewer.
You ask exactly one short question per turn, building a complete clinical history over fifteen questions:
presenting complaint, onset and duration, severity, associated symptoms, medical history, medications,
allergies, family history, lifestyle, and anything the earlier answers make relevant.
Never diagnose, never recommend treatment, never ask more than one question at a time.
Respond with the question text only.`

// Interviewer runs the fixed-length intake protocol. It holds no
// conversation state: the caller supplies the transcript on every turn and
// the question index is derived from it, so a failed call can be retried
// without skipping a question.
type Interviewer struct {
	client ai.Client
	logger zerolog.Logger
}

func NewInterviewer(client ai.Client, logger zerolog.Logger) *Interviewer {
	return &Interviewer{client: client, logger: logger.With().Str("component", "intake_interviewer").Logger()}
}

// NextTurn produces the next question for the given transcript. The index
// advances only when a question is actually returned; on
// ErrInferenceUnavailable the caller retries with the same transcript.
func (iv *Interviewer) NextTurn(ctx context.Context, transcript []Entry) (*Turn, error) {
	index := countQuestions(transcript) + 1
	if index > TotalQuestions {
		return nil, ErrInterviewComplete
	}

	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	if len(transcript) == 0 {
		b.WriteString("(none)\n")
	}
	for _, e := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Text)
	}
	fmt.Fprintf(&b, "\nAsk question %d of %d.", index, TotalQuestions)
	if index == TotalQuestions {
		b.WriteString(" This is the last question: ask it, and explicitly invite the patient to add any final remarks before the interview concludes.")
	}

	reply, err := iv.client.Complete(ctx, ai.Request{System: interviewSystemPrompt, User: b.String()})
	if err != nil {
		iv.logger.Warn().Err(err).Int("question_index", index).Msg("interview completion failed")
		return nil, fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
	}
	question := strings.TrimSpace(reply)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInferenceUnavailable)
	}

	return &Turn{
		Question:      question,
		QuestionIndex: index,
		IsFinal:       index == TotalQuestions,
	}, nil
}

func countQuestions(transcript []Entry) int {
	n := 0
	for _, e := range transcript {
		if e.Speaker == SpeakerInterviewer {
			n++
		}
	}
	return n
}
