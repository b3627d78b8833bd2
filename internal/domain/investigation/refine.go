package investigation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/caresight/caresight/internal/domain/fieldvisit"
	"github.com/caresight/caresight/internal/platform/ai"
)

// Urgency grades how quickly a case needs clinician attention.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Condition is one differential-diagnosis candidate with an estimated
// probability in percent.
type Condition struct {
	Condition   string `json:"condition"`
	Probability int    `json:"probability"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// NextSteps is what the engine recommends after a refinement round. When
// AdditionalLabTests is empty the engine considers the evidence sufficient.
type NextSteps struct {
	AdditionalLabTests []string `json:"additional_lab_tests"`
	Medications        []string `json:"medications,omitempty"`
}

// RefinementResult is the engine's analysis of one evidence submission. It is
// stored verbatim inside the step that carried the evidence.
type RefinementResult struct {
	RefinedAnalysis          string      `json:"refined_analysis"`
	PotentialConditions      []Condition `json:"potential_conditions"`
	NextSteps                NextSteps   `json:"next_steps"`
	IsFinalDiagnosisPossible bool        `json:"is_final_diagnosis_possible"`
	Justification            string      `json:"justification"`
	Urgency                  Urgency     `json:"urgency"`
}

const refineSystemPrompt = `You are a clinical decision support engine for a remote diagnostic service.
You receive the full case record of an investigation (intake interview summary, clinician plan, prior analysis rounds) plus newly submitted field evidence (lab results and patient feedback).
Refine the diagnostic picture using ALL of the case record, not just the new evidence.

Respond with a single JSON object and nothing else, using exactly these keys:
{
  "refined_analysis": "updated clinical assessment as free text",
  "potential_conditions": [{"condition": "name", "probability": 0-100, "reasoning": "why"}],
  "next_steps": {"additional_lab_tests": ["test name", ...], "medications": ["drug and dose", ...]},
  "is_final_diagnosis_possible": true or false,
  "justification": "why a final diagnosis is or is not possible yet",
  "urgency": "low" | "medium" | "high" | "critical"
}

Rules:
- If is_final_diagnosis_possible is true, additional_lab_tests MUST be empty.
- If is_final_diagnosis_possible is false, additional_lab_tests MUST name the tests still needed.
- Probabilities are integers between 0 and 100.
- Do not invent evidence that is not in the record.`

// Engine computes refinement rounds. It is stateless: each call receives the
// full case context and returns an analysis without touching storage.
type Engine struct {
	client ai.Client
	logger zerolog.Logger
}

func NewEngine(client ai.Client, logger zerolog.Logger) *Engine {
	return &Engine{client: client, logger: logger.With().Str("component", "refinement_engine").Logger()}
}

// Refine runs one analysis round over the case context and the new evidence.
// Any failure to obtain a valid, coherent result returns
// ErrRefinementUnavailable so the caller leaves the case untouched.
func (e *Engine) Refine(ctx context.Context, caseContext string, evidence fieldvisit.Bundle) (*RefinementResult, error) {
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return nil, fmt.Errorf("%w: encode evidence: %v", ErrRefinementUnavailable, err)
	}

	var b strings.Builder
	b.WriteString("CASE RECORD:\n")
	b.WriteString(caseContext)
	b.WriteString("\n\nNEW FIELD EVIDENCE:\n")
	b.Write(evidenceJSON)

	raw, err := e.client.Complete(ctx, ai.Request{
		System:   refineSystemPrompt,
		User:     b.String(),
		JSONOnly: true,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("refinement completion failed")
		return nil, fmt.Errorf("%w: %v", ErrRefinementUnavailable, err)
	}

	result, err := parseRefinementResult(raw)
	if err != nil {
		e.logger.Warn().Err(err).Msg("refinement output rejected")
		return nil, fmt.Errorf("%w: %v", ErrRefinementUnavailable, err)
	}
	return result, nil
}

// parseRefinementResult validates engine output strictly. Anything that does
// not match the contract is rejected rather than repaired.
func parseRefinementResult(raw string) (*RefinementResult, error) {
	var result RefinementResult
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	if strings.TrimSpace(result.RefinedAnalysis) == "" {
		return nil, fmt.Errorf("missing refined_analysis")
	}
	if strings.TrimSpace(result.Justification) == "" {
		return nil, fmt.Errorf("missing justification")
	}
	if !result.Urgency.Valid() {
		return nil, fmt.Errorf("invalid urgency %q", result.Urgency)
	}
	if len(result.PotentialConditions) == 0 {
		return nil, fmt.Errorf("missing potential_conditions")
	}
	for _, c := range result.PotentialConditions {
		if strings.TrimSpace(c.Condition) == "" {
			return nil, fmt.Errorf("potential condition without a name")
		}
		if c.Probability < 0 || c.Probability > 100 {
			return nil, fmt.Errorf("probability %d out of range for %q", c.Probability, c.Condition)
		}
	}
	if result.IsFinalDiagnosisPossible && len(result.NextSteps.AdditionalLabTests) > 0 {
		return nil, fmt.Errorf("final diagnosis claimed but additional lab tests requested")
	}
	if !result.IsFinalDiagnosisPossible && len(result.NextSteps.AdditionalLabTests) == 0 {
		return nil, fmt.Errorf("no final diagnosis but no additional lab tests requested")
	}
	return &result, nil
}
