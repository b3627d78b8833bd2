// Package notification is the fire-and-forget message side channel. Every
// notification is persisted to the messages sub-collection of its
// investigation and then fanned out through the configured senders.
// Delivery is at-most-once: a failed send is logged and dropped, never
// retried at the cost of blocking a state transition.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Audience selects who a message is surfaced to.
type Audience string

const (
	AudiencePatient      Audience = "patient"
	AudienceClinicians   Audience = "clinicians"
	AudienceFieldWorkers Audience = "field_workers"
)

var validAudiences = map[Audience]bool{
	AudiencePatient:      true,
	AudienceClinicians:   true,
	AudienceFieldWorkers: true,
}

// Message is one entry in an investigation's message side channel.
type Message struct {
	ID              uuid.UUID `json:"id"`
	InvestigationID uuid.UUID `json:"investigation_id"`
	Audience        Audience  `json:"audience"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
}

// Repository persists messages.
type Repository interface {
	Create(ctx context.Context, m *Message) error
	ListByInvestigation(ctx context.Context, investigationID uuid.UUID, limit, offset int) ([]*Message, int, error)
}

// Sender delivers a message to an external channel (push, SMS, email).
type Sender interface {
	Send(ctx context.Context, m *Message) error
}

// Service persists and dispatches notifications.
type Service struct {
	repo    Repository
	senders []Sender
	logger  zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger, senders ...Sender) *Service {
	return &Service{repo: repo, senders: senders, logger: logger}
}

// Notify records the message and dispatches it to all senders. Failures are
// logged and swallowed; callers must never block on or fail from delivery.
func (s *Service) Notify(ctx context.Context, investigationID uuid.UUID, audience Audience, body string) {
	if !validAudiences[audience] {
		s.logger.Error().Str("audience", string(audience)).Msg("unknown notification audience")
		return
	}

	m := &Message{
		ID:              uuid.New(),
		InvestigationID: investigationID,
		Audience:        audience,
		Body:            body,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, m); err != nil {
		s.logger.Error().Err(err).
			Str("investigation_id", investigationID.String()).
			Msg("persist notification")
		return
	}

	for _, sender := range s.senders {
		if err := sender.Send(ctx, m); err != nil {
			s.logger.Warn().Err(err).
				Str("message_id", m.ID.String()).
				Msg("notification delivery failed")
		}
	}
}

// List returns the message side channel for an investigation.
func (s *Service) List(ctx context.Context, investigationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	return s.repo.ListByInvestigation(ctx, investigationID, limit, offset)
}

// LogSender writes deliveries to the service log. It is the default sender
// when no external channel is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (l LogSender) Send(_ context.Context, m *Message) error {
	l.Logger.Info().
		Str("investigation_id", m.InvestigationID.String()).
		Str("audience", string(m.Audience)).
		Str("body", m.Body).
		Msg("notification")
	return nil
}

// MockSender records deliveries for tests.
type MockSender struct {
	mu    sync.Mutex
	calls []Message
	Fail  error
}

func (m *MockSender) Send(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, *msg)
	return m.Fail
}

// Calls returns a copy of recorded deliveries.
func (m *MockSender) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.calls))
	copy(out, m.calls)
	return out
}
