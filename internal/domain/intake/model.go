package intake

import "errors"

// TotalQuestions is the fixed length of the intake interview. The greeting
// does not count toward it.
const TotalQuestions = 15

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerPatient     Speaker = "patient"
	SpeakerInterviewer Speaker = "interviewer"
)

// Entry is one turn of the intake conversation. The transcript holds
// questions and answers only; the static greeting is never part of it.
type Entry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Turn is the interviewer's next question. QuestionIndex is 1-based and
// includes the question just returned; IsFinal is true exactly on the 15th.
type Turn struct {
	Question      string `json:"question"`
	QuestionIndex int    `json:"question_index"`
	IsFinal       bool   `json:"is_final"`
}

var (
	// ErrInferenceUnavailable means the inference call produced no usable
	// output. Transient; the caller retries without advancing the question
	// index.
	ErrInferenceUnavailable = errors.New("inference unavailable")

	// ErrInterviewComplete means all questions have already been asked.
	ErrInterviewComplete = errors.New("interview already complete")

	// ErrInterviewIncomplete means the transcript does not contain all
	// questions and their answers.
	ErrInterviewIncomplete = errors.New("interview not complete")
)
