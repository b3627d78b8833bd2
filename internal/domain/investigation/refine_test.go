package investigation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/caresight/caresight/internal/domain/fieldvisit"
	"github.com/caresight/caresight/internal/platform/ai"
)

const validRefinement = `{
	"refined_analysis": "CBC shows microcytic anemia consistent with iron deficiency",
	"potential_conditions": [{"condition": "iron deficiency anemia", "probability": 85, "reasoning": "low MCV, low hemoglobin"}],
	"next_steps": {"additional_lab_tests": [], "medications": ["ferrous sulfate 325mg daily"]},
	"is_final_diagnosis_possible": true,
	"justification": "lab findings are conclusive",
	"urgency": "low"
}`

func TestRefine_ValidOutput(t *testing.T) {
	client := ai.NewFakeClient(ai.FakeReply{Content: validRefinement})
	engine := NewEngine(client, zerolog.Nop())

	result, err := engine.Refine(context.Background(), `{"intake_summary":"fatigue"}`, fieldvisit.Bundle{
		LabResults: []fieldvisit.LabResult{{TestName: "CBC", ImageRef: "img-1"}},
	})
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !result.IsFinalDiagnosisPossible {
		t.Error("expected final diagnosis possible")
	}
	if result.Urgency != UrgencyLow {
		t.Errorf("urgency = %q, want low", result.Urgency)
	}
	if len(result.PotentialConditions) != 1 || result.PotentialConditions[0].Probability != 85 {
		t.Errorf("unexpected conditions: %+v", result.PotentialConditions)
	}
}

func TestRefine_CompletionFailure(t *testing.T) {
	client := ai.NewFakeClient(ai.FakeReply{Err: ai.ErrNoOutput})
	engine := NewEngine(client, zerolog.Nop())

	_, err := engine.Refine(context.Background(), "{}", fieldvisit.Bundle{})
	if !errors.Is(err, ErrRefinementUnavailable) {
		t.Errorf("got %v, want ErrRefinementUnavailable", err)
	}
}

func TestParseRefinementResult_FailsClosed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "here is my analysis: looks like anemia"},
		{"empty object", "{}"},
		{"missing analysis", `{"potential_conditions":[{"condition":"flu","probability":50}],"next_steps":{"additional_lab_tests":["CBC"]},"is_final_diagnosis_possible":false,"justification":"x","urgency":"low"}`},
		{"missing justification", `{"refined_analysis":"a","potential_conditions":[{"condition":"flu","probability":50}],"next_steps":{"additional_lab_tests":["CBC"]},"is_final_diagnosis_possible":false,"justification":"","urgency":"low"}`},
		{"bad urgency", `{"refined_analysis":"a","potential_conditions":[{"condition":"flu","probability":50}],"next_steps":{"additional_lab_tests":["CBC"]},"is_final_diagnosis_possible":false,"justification":"x","urgency":"urgent"}`},
		{"no conditions", `{"refined_analysis":"a","potential_conditions":[],"next_steps":{"additional_lab_tests":["CBC"]},"is_final_diagnosis_possible":false,"justification":"x","urgency":"low"}`},
		{"probability out of range", `{"refined_analysis":"a","potential_conditions":[{"condition":"flu","probability":140}],"next_steps":{"additional_lab_tests":["CBC"]},"is_final_diagnosis_possible":false,"justification":"x","urgency":"low"}`},
		{"final but more tests", `{"refined_analysis":"a","potential_conditions":[{"condition":"flu","probability":50}],"next_steps":{"additional_lab_tests":["CBC"]},"is_final_diagnosis_possible":true,"justification":"x","urgency":"low"}`},
		{"not final but no tests", `{"refined_analysis":"a","potential_conditions":[{"condition":"flu","probability":50}],"next_steps":{"additional_lab_tests":[]},"is_final_diagnosis_possible":false,"justification":"x","urgency":"low"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseRefinementResult(tc.raw); err == nil {
				t.Error("malformed output accepted")
			}
		})
	}
}

func TestParseRefinementResult_Continuation(t *testing.T) {
	raw := `{
		"refined_analysis": "glucose elevated, differential remains broad",
		"potential_conditions": [
			{"condition": "type 2 diabetes", "probability": 55},
			{"condition": "stress hyperglycemia", "probability": 25}
		],
		"next_steps": {"additional_lab_tests": ["HbA1c"], "medications": []},
		"is_final_diagnosis_possible": false,
		"justification": "confirmatory test needed",
		"urgency": "medium"
	}`
	result, err := parseRefinementResult(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.IsFinalDiagnosisPossible {
		t.Error("continuation parsed as final")
	}
	if len(result.NextSteps.AdditionalLabTests) != 1 || result.NextSteps.AdditionalLabTests[0] != "HbA1c" {
		t.Errorf("additional tests = %v, want [HbA1c]", result.NextSteps.AdditionalLabTests)
	}
}
