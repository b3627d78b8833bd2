// Package wallet is the prepaid balance ledger that gates paid features.
// Opening an investigation debits the patient's balance before the intake
// interview starts. Balances never go negative; the debit is conditioned on
// sufficient funds in the same statement that applies it.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientFunds means the debit would overdraw the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount means a zero or negative amount was supplied.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Entry is one append-only ledger row. Debits are negative.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	ActorID     uuid.UUID `json:"actor_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository persists the ledger and the materialized balance.
type Repository interface {
	// Apply atomically adjusts the balance and appends a ledger entry.
	// A negative amount that would overdraw the balance fails with
	// ErrInsufficientFunds and leaves both untouched.
	Apply(ctx context.Context, actorID uuid.UUID, amountCents int64, reason string) error
	Balance(ctx context.Context, actorID uuid.UUID) (int64, error)
	Entries(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]*Entry, int, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Debit withdraws amountCents from the actor's balance.
func (s *Service) Debit(ctx context.Context, actorID uuid.UUID, amountCents int64, reason string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	return s.repo.Apply(ctx, actorID, -amountCents, reason)
}

// Credit tops up the actor's balance. Payment gateway verification happens
// upstream; by the time Credit is called the money is real.
func (s *Service) Credit(ctx context.Context, actorID uuid.UUID, amountCents int64, reason string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	return s.repo.Apply(ctx, actorID, amountCents, reason)
}

func (s *Service) Balance(ctx context.Context, actorID uuid.UUID) (int64, error) {
	return s.repo.Balance(ctx, actorID)
}

func (s *Service) Entries(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.repo.Entries(ctx, actorID, limit, offset)
}
