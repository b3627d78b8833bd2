package investigation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caresight/caresight/internal/domain/fieldvisit"
)

var (
	// ErrNotFound means no investigation exists for the given ID.
	ErrNotFound = errors.New("investigation not found")

	// ErrInvalidTransition means an actor or status precondition was
	// violated. Never retried automatically.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrIncompleteEvidence means the submitted bundle does not satisfy the
	// fulfillment contract. Caller-correctable; carries the missing items.
	ErrIncompleteEvidence = errors.New("incomplete evidence")

	// ErrRefinementUnavailable means the refinement engine produced no valid
	// output. Transient and safe to retry: the round is never partially
	// committed.
	ErrRefinementUnavailable = errors.New("refinement engine unavailable")

	// ErrConcurrentModification means the store rejected a conditional write
	// because the status changed since it was read. Surfaced as "refresh and
	// retry", not auto-retried.
	ErrConcurrentModification = errors.New("investigation modified concurrently")

	// ErrAuthorizationDenied means the actor is not authorized for this case.
	ErrAuthorizationDenied = errors.New("actor not authorized for this case")
)

// IncompleteEvidenceError reports exactly which required items are missing
// from a field visit submission.
type IncompleteEvidenceError struct {
	Missing fieldvisit.Result
}

func (e *IncompleteEvidenceError) Error() string {
	var parts []string
	if len(e.Missing.MissingLabTests) > 0 {
		parts = append(parts, fmt.Sprintf("lab tests: %s", strings.Join(e.Missing.MissingLabTests, ", ")))
	}
	if len(e.Missing.MissingFeedback) > 0 {
		modalities := make([]string, len(e.Missing.MissingFeedback))
		for i, m := range e.Missing.MissingFeedback {
			modalities[i] = string(m)
		}
		parts = append(parts, fmt.Sprintf("feedback: %s", strings.Join(modalities, ", ")))
	}
	return "incomplete evidence, missing " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrIncompleteEvidence) match.
func (e *IncompleteEvidenceError) Is(target error) bool {
	return target == ErrIncompleteEvidence
}
