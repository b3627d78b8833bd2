package investigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresight/caresight/internal/domain/fieldvisit"
	"github.com/caresight/caresight/internal/platform/notification"
)

// -- Mock Repository --

// mockRepo reproduces the store's conditional-write semantics: every
// status-changing method checks the caller's observed status and rejects the
// write with ErrConcurrentModification when it no longer matches.
type mockRepo struct {
	mu      sync.Mutex
	store   map[uuid.UUID]*Investigation
	steps   map[uuid.UUID][]*Step
	history map[uuid.UUID][]*StatusChange

	failAppend error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		store:   make(map[uuid.UUID]*Investigation),
		steps:   make(map[uuid.UUID][]*Step),
		history: make(map[uuid.UUID][]*StatusChange),
	}
}

func (m *mockRepo) Create(_ context.Context, inv *Investigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.store[inv.ID] = &cp
	m.record(inv.ID, nil, inv.Status, inv.PatientID)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Investigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *mockRepo) listWhere(match func(*Investigation) bool) ([]*Investigation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r []*Investigation
	for _, inv := range m.store {
		if match(inv) {
			cp := *inv
			r = append(r, &cp)
		}
	}
	return r, len(r), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*Investigation, int, error) {
	return m.listWhere(func(inv *Investigation) bool { return inv.PatientID == patientID })
}

func (m *mockRepo) ListByStatus(_ context.Context, status Status, _, _ int) ([]*Investigation, int, error) {
	return m.listWhere(func(inv *Investigation) bool { return inv.Status == status })
}

func (m *mockRepo) ListByClinician(_ context.Context, clinicianID uuid.UUID, _, _ int) ([]*Investigation, int, error) {
	return m.listWhere(func(inv *Investigation) bool {
		return inv.ReviewingClinicianID != nil && *inv.ReviewingClinicianID == clinicianID
	})
}

func (m *mockRepo) ListByFieldWorker(_ context.Context, workerID uuid.UUID, _, _ int) ([]*Investigation, int, error) {
	return m.listWhere(func(inv *Investigation) bool {
		return inv.FieldWorkerID != nil && *inv.FieldWorkerID == workerID
	})
}

func (m *mockRepo) ClaimReview(_ context.Context, id, clinicianID uuid.UUID, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.store[id]
	if !ok || inv.Status != from {
		return ErrConcurrentModification
	}
	if inv.ReviewingClinicianID != nil && *inv.ReviewingClinicianID != clinicianID {
		return ErrConcurrentModification
	}
	inv.ReviewingClinicianID = &clinicianID
	return nil
}

func (m *mockRepo) Dispatch(_ context.Context, id, actorID uuid.UUID, workerID *uuid.UUID, plan *ClinicianPlan, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.store[id]
	if !ok || inv.Status != from {
		return ErrConcurrentModification
	}
	inv.Status = to
	inv.Plan = plan
	inv.FieldWorkerID = workerID
	m.record(id, &from, to, actorID)
	return nil
}

func (m *mockRepo) Transition(_ context.Context, id, actorID uuid.UUID, from, to Status, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.store[id]
	if !ok || inv.Status != from {
		return ErrConcurrentModification
	}
	inv.Status = to
	m.record(id, &from, to, actorID)
	return nil
}

func (m *mockRepo) SetFollowUp(_ context.Context, id, actorID uuid.UUID, req *FollowUpRequest, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.store[id]
	if !ok || inv.Status != from {
		return ErrConcurrentModification
	}
	inv.Status = to
	inv.FollowUp = req
	m.record(id, &from, to, actorID)
	return nil
}

func (m *mockRepo) AppendStep(_ context.Context, step *Step, from, to Status, newLabTests []string, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend != nil {
		return m.failAppend
	}
	inv, ok := m.store[step.InvestigationID]
	if !ok || inv.Status != from {
		return ErrConcurrentModification
	}
	inv.Status = to
	inv.FollowUp = nil
	inv.LastActivitySummary = summary
	if newLabTests != nil && inv.Plan != nil {
		inv.Plan.SuggestedLabTests = newLabTests
	}
	step.Seq = len(m.steps[step.InvestigationID]) + 1
	m.steps[step.InvestigationID] = append(m.steps[step.InvestigationID], step)
	m.record(step.InvestigationID, &from, to, step.SubmittedBy)
	return nil
}

func (m *mockRepo) Steps(_ context.Context, id uuid.UUID) ([]*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Step(nil), m.steps[id]...), nil
}

func (m *mockRepo) StatusHistory(_ context.Context, id uuid.UUID) ([]*StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*StatusChange(nil), m.history[id]...), nil
}

func (m *mockRepo) record(id uuid.UUID, from *Status, to Status, actorID uuid.UUID) {
	m.history[id] = append(m.history[id], &StatusChange{
		ID: uuid.New(), InvestigationID: id, FromStatus: from, ToStatus: to, ActorID: actorID,
	})
}

// -- Test doubles --

type stubRefiner struct {
	results []*RefinementResult
	errs    []error
	calls   int
}

func (s *stubRefiner) Refine(_ context.Context, _ string, _ fieldvisit.Bundle) (*RefinementResult, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	r := *s.results[i]
	return &r, nil
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

func continuingResult(tests ...string) *RefinementResult {
	return &RefinementResult{
		RefinedAnalysis:     "evidence narrows the differential",
		PotentialConditions: []Condition{{Condition: "anemia", Probability: 60}},
		NextSteps:           NextSteps{AdditionalLabTests: tests},
		Justification:       "more evidence needed",
		Urgency:             UrgencyMedium,
	}
}

func finalResult() *RefinementResult {
	return &RefinementResult{
		RefinedAnalysis:          "evidence is conclusive",
		PotentialConditions:      []Condition{{Condition: "iron deficiency anemia", Probability: 90}},
		NextSteps:                NextSteps{Medications: []string{"ferrous sulfate 325mg"}},
		IsFinalDiagnosisPossible: true,
		Justification:            "all findings consistent",
		Urgency:                  UrgencyLow,
	}
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	refiner  *stubRefiner
	notifier *recordingNotifier
}

func newFixture(refiner *stubRefiner) *fixture {
	repo := newMockRepo()
	notifier := &recordingNotifier{}
	return &fixture{
		svc:      NewService(repo, refiner, notifier, zerolog.Nop()),
		repo:     repo,
		refiner:  refiner,
		notifier: notifier,
	}
}

func (f *fixture) dispatched(t *testing.T, clinicianID, workerID uuid.UUID, tests []string) *Investigation {
	t.Helper()
	ctx := context.Background()
	inv, err := f.svc.Open(ctx, uuid.New(), "Amina Yusuf", "persistent fatigue, pale complexion")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	plan := &ClinicianPlan{SuggestedLabTests: tests}
	if err := f.svc.Dispatch(ctx, inv.ID, clinicianID, workerID, plan); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	inv, err = f.svc.Get(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return inv
}

func bundleFor(tests ...string) fieldvisit.Bundle {
	var b fieldvisit.Bundle
	for _, name := range tests {
		b.LabResults = append(b.LabResults, fieldvisit.LabResult{TestName: name, ImageRef: "img-" + name})
	}
	return b
}

// -- State machine tests --

func TestOpen_StartsUnderReview(t *testing.T) {
	f := newFixture(&stubRefiner{})
	inv, err := f.svc.Open(context.Background(), uuid.New(), "Amina Yusuf", "summary")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if inv.Status != StatusUnderReview {
		t.Errorf("status = %q, want %q", inv.Status, StatusUnderReview)
	}
	if len(f.notifier.calls) != 1 || f.notifier.calls[0] != notification.AudienceClinicians {
		t.Errorf("expected one clinician notification, got %v", f.notifier.calls)
	}
}

func TestDispatch_RequiresUnderReview(t *testing.T) {
	f := newFixture(&stubRefiner{})
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC"})

	err := f.svc.Dispatch(context.Background(), inv.ID, clinicianID, workerID, &ClinicianPlan{SuggestedLabTests: []string{"CBC"}})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second dispatch: got %v, want ErrInvalidTransition", err)
	}
}

func TestDispatch_EmptyPlanRejected(t *testing.T) {
	f := newFixture(&stubRefiner{})
	inv, _ := f.svc.Open(context.Background(), uuid.New(), "Amina Yusuf", "summary")
	err := f.svc.Dispatch(context.Background(), inv.ID, uuid.New(), uuid.New(), &ClinicianPlan{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
}

func TestReject_Terminal(t *testing.T) {
	f := newFixture(&stubRefiner{})
	ctx := context.Background()
	inv, _ := f.svc.Open(ctx, uuid.New(), "Amina Yusuf", "summary")
	clinicianID := uuid.New()
	if err := f.svc.ClaimReview(ctx, inv.ID, clinicianID); err != nil {
		t.Fatalf("ClaimReview: %v", err)
	}
	if err := f.svc.Reject(ctx, inv.ID, clinicianID, "insufficient information"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	got, _ := f.svc.Get(ctx, inv.ID)
	if got.Status != StatusRejected {
		t.Errorf("status = %q, want %q", got.Status, StatusRejected)
	}
	if err := f.svc.Finalize(ctx, inv.ID, clinicianID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("finalize after reject: got %v, want ErrInvalidTransition", err)
	}
}

func TestClaimReview_SecondClinicianDenied(t *testing.T) {
	f := newFixture(&stubRefiner{})
	ctx := context.Background()
	inv, _ := f.svc.Open(ctx, uuid.New(), "Amina Yusuf", "summary")
	first, second := uuid.New(), uuid.New()
	if err := f.svc.ClaimReview(ctx, inv.ID, first); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := f.svc.ClaimReview(ctx, inv.ID, second); !errors.Is(err, ErrAuthorizationDenied) {
		t.Errorf("second claim: got %v, want ErrAuthorizationDenied", err)
	}
	if err := f.svc.ClaimReview(ctx, inv.ID, first); err != nil {
		t.Errorf("re-claim by holder: %v", err)
	}
}

func TestSubmitFieldVisit_RefinementFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(&stubRefiner{errs: []error{fmt.Errorf("%w: timeout", ErrRefinementUnavailable)}})
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC"})

	_, err := f.svc.SubmitFieldVisit(context.Background(), inv.ID, workerID, bundleFor("CBC"))
	if !errors.Is(err, ErrRefinementUnavailable) {
		t.Fatalf("got %v, want ErrRefinementUnavailable", err)
	}
	got, _ := f.svc.Get(context.Background(), inv.ID)
	if got.Status != StatusAwaitingFieldVisit {
		t.Errorf("status = %q, want unchanged %q", got.Status, StatusAwaitingFieldVisit)
	}
	steps, _ := f.svc.Steps(context.Background(), inv.ID)
	if len(steps) != 0 {
		t.Errorf("steps = %d, want 0", len(steps))
	}
}

func TestSubmitFieldVisit_IncompleteEvidence(t *testing.T) {
	f := newFixture(&stubRefiner{results: []*RefinementResult{finalResult()}})
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC", "Glucose"})

	_, err := f.svc.SubmitFieldVisit(context.Background(), inv.ID, workerID, bundleFor("CBC"))
	if !errors.Is(err, ErrIncompleteEvidence) {
		t.Fatalf("got %v, want ErrIncompleteEvidence", err)
	}
	var incomplete *IncompleteEvidenceError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected *IncompleteEvidenceError, got %T", err)
	}
	if len(incomplete.Missing.MissingLabTests) != 1 || incomplete.Missing.MissingLabTests[0] != "Glucose" {
		t.Errorf("missing = %v, want [Glucose]", incomplete.Missing.MissingLabTests)
	}
	if f.refiner.calls != 0 {
		t.Errorf("refiner was called %d times for an incomplete bundle", f.refiner.calls)
	}
}

func TestSubmitFieldVisit_WrongWorkerDenied(t *testing.T) {
	f := newFixture(&stubRefiner{results: []*RefinementResult{finalResult()}})
	inv := f.dispatched(t, uuid.New(), uuid.New(), []string{"CBC"})

	_, err := f.svc.SubmitFieldVisit(context.Background(), inv.ID, uuid.New(), bundleFor("CBC"))
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Errorf("got %v, want ErrAuthorizationDenied", err)
	}
}

func TestSubmitFieldVisit_IncoherentTerminationRejected(t *testing.T) {
	bad := finalResult()
	bad.NextSteps.AdditionalLabTests = []string{"Lipid Panel"}
	f := newFixture(&stubRefiner{results: []*RefinementResult{bad}})
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC"})

	_, err := f.svc.SubmitFieldVisit(context.Background(), inv.ID, workerID, bundleFor("CBC"))
	if !errors.Is(err, ErrRefinementUnavailable) {
		t.Fatalf("got %v, want ErrRefinementUnavailable", err)
	}
	steps, _ := f.svc.Steps(context.Background(), inv.ID)
	if len(steps) != 0 {
		t.Errorf("incoherent analysis was committed: %d steps", len(steps))
	}
}

func TestSubmitFieldVisit_ConcurrentModificationSurfaced(t *testing.T) {
	f := newFixture(&stubRefiner{results: []*RefinementResult{finalResult()}})
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC"})
	f.repo.failAppend = ErrConcurrentModification

	_, err := f.svc.SubmitFieldVisit(context.Background(), inv.ID, workerID, bundleFor("CBC"))
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("got %v, want ErrConcurrentModification", err)
	}
}

func TestSubmitFieldVisit_MultibyteSummaryStaysValidUTF8(t *testing.T) {
	// The activity summary cut must land on a rune boundary or the store
	// rejects the row and the whole round fails.
	res := finalResult()
	res.RefinedAnalysis = strings.Repeat("a", 137) + strings.Repeat("é", 40)
	f := newFixture(&stubRefiner{results: []*RefinementResult{res}})
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC"})

	if _, err := f.svc.SubmitFieldVisit(context.Background(), inv.ID, workerID, bundleFor("CBC")); err != nil {
		t.Fatalf("SubmitFieldVisit: %v", err)
	}
	got, err := f.svc.Get(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !utf8.ValidString(got.LastActivitySummary) {
		t.Errorf("activity summary is not valid UTF-8: %q", got.LastActivitySummary)
	}
	if len(got.LastActivitySummary) > 160 {
		t.Errorf("activity summary is %d bytes, want <= 160", len(got.LastActivitySummary))
	}
}

func TestTruncate_RuneBoundaries(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
	}{
		{"ascii", strings.Repeat("x", 200), 160},
		{"multibyte at the cut", strings.Repeat("a", 156) + "élevée", 160},
		{"all multibyte", strings.Repeat("é", 120), 160},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%d bytes, %d) is not valid UTF-8: %q", len(tt.in), tt.max, got)
			}
			if len(got) > tt.max {
				t.Errorf("len = %d, want <= %d", len(got), tt.max)
			}
			if !strings.HasSuffix(got, "...") {
				t.Errorf("missing ellipsis: %q", got)
			}
		})
	}
}

func TestRequestFollowUp_BlockedWhenFinalPossibleUnlessForced(t *testing.T) {
	f := newFixture(&stubRefiner{results: []*RefinementResult{finalResult()}})
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC"})
	ctx := context.Background()

	if _, err := f.svc.SubmitFieldVisit(ctx, inv.ID, workerID, bundleFor("CBC")); err != nil {
		t.Fatalf("SubmitFieldVisit: %v", err)
	}
	err := f.svc.RequestFollowUp(ctx, inv.ID, clinicianID, "recheck", []fieldvisit.Modality{fieldvisit.ModalityText}, false)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unforced follow-up after final verdict: got %v, want ErrInvalidTransition", err)
	}
	if err := f.svc.RequestFollowUp(ctx, inv.ID, clinicianID, "recheck", []fieldvisit.Modality{fieldvisit.ModalityText}, true); err != nil {
		t.Fatalf("forced follow-up: %v", err)
	}
	got, _ := f.svc.Get(ctx, inv.ID)
	if got.Status != StatusAwaitingFollowUpVisit {
		t.Errorf("status = %q, want %q", got.Status, StatusAwaitingFollowUpVisit)
	}
}

// runCycles drives a case through N follow-up cycles and returns the final
// record. Each cycle is pending_final_review -> awaiting_follow_up_visit ->
// pending_final_review with a text-only report.
func runCycles(t *testing.T, n int) (*fixture, *Investigation, uuid.UUID) {
	t.Helper()
	results := []*RefinementResult{continuingResult("Lipid Panel")}
	for i := 0; i < n; i++ {
		if i == n-1 {
			results = append(results, finalResult())
		} else {
			results = append(results, continuingResult("Ferritin"))
		}
	}
	f := newFixture(&stubRefiner{results: results})
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC", "Glucose"})
	ctx := context.Background()

	if _, err := f.svc.SubmitFieldVisit(ctx, inv.ID, workerID, bundleFor("CBC", "Glucose")); err != nil {
		t.Fatalf("initial visit: %v", err)
	}
	for i := 0; i < n; i++ {
		note := fmt.Sprintf("follow-up %d", i+1)
		if err := f.svc.RequestFollowUp(ctx, inv.ID, clinicianID, note, []fieldvisit.Modality{fieldvisit.ModalityText}, false); err != nil {
			t.Fatalf("RequestFollowUp %d: %v", i+1, err)
		}
		b := fieldvisit.Bundle{Report: &fieldvisit.Report{Text: "patient seen, vitals recorded"}}
		if _, err := f.svc.SubmitFieldVisit(ctx, inv.ID, workerID, b); err != nil {
			t.Fatalf("follow-up visit %d: %v", i+1, err)
		}
	}
	got, err := f.svc.Get(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return f, got, clinicianID
}

func TestFollowUpCycles_NoDataLoss(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		t.Run(fmt.Sprintf("%d_cycles", n), func(t *testing.T) {
			f, inv, _ := runCycles(t, n)
			if inv.Status != StatusPendingFinalReview {
				t.Fatalf("status = %q, want %q", inv.Status, StatusPendingFinalReview)
			}
			steps, _ := f.svc.Steps(context.Background(), inv.ID)
			if len(steps) != n+1 {
				t.Fatalf("steps = %d, want %d", len(steps), n+1)
			}
			if steps[0].FollowUp != nil {
				t.Errorf("first step carries a follow-up snapshot")
			}
			for i := 1; i <= n; i++ {
				want := fmt.Sprintf("follow-up %d", i)
				if steps[i].FollowUp == nil || steps[i].FollowUp.Note != want {
					t.Errorf("step %d snapshot = %+v, want note %q", i, steps[i].FollowUp, want)
				}
			}
			if inv.FollowUp != nil {
				t.Errorf("follow-up request not cleared after submission")
			}
		})
	}
}

func TestPlanLabTestsReplacedByAnalysis(t *testing.T) {
	f := newFixture(&stubRefiner{results: []*RefinementResult{continuingResult("Lipid Panel")}})
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC", "Glucose"})

	if _, err := f.svc.SubmitFieldVisit(context.Background(), inv.ID, workerID, bundleFor("CBC", "Glucose")); err != nil {
		t.Fatalf("SubmitFieldVisit: %v", err)
	}
	got, _ := f.svc.Get(context.Background(), inv.ID)
	if len(got.Plan.SuggestedLabTests) != 1 || got.Plan.SuggestedLabTests[0] != "Lipid Panel" {
		t.Errorf("plan tests = %v, want [Lipid Panel]", got.Plan.SuggestedLabTests)
	}
}

func TestFullScenario(t *testing.T) {
	f := newFixture(&stubRefiner{results: []*RefinementResult{
		continuingResult("Lipid Panel"),
		finalResult(),
	}})
	ctx := context.Background()
	clinicianID, workerID := uuid.New(), uuid.New()
	inv := f.dispatched(t, clinicianID, workerID, []string{"CBC", "Glucose"})

	if _, err := f.svc.SubmitFieldVisit(ctx, inv.ID, workerID, bundleFor("CBC", "Glucose")); err != nil {
		t.Fatalf("first visit: %v", err)
	}
	got, _ := f.svc.Get(ctx, inv.ID)
	if got.Status != StatusPendingFinalReview {
		t.Fatalf("after first visit status = %q, want %q", got.Status, StatusPendingFinalReview)
	}

	if err := f.svc.RequestFollowUp(ctx, inv.ID, clinicianID, "need textual report", []fieldvisit.Modality{fieldvisit.ModalityText}, false); err != nil {
		t.Fatalf("RequestFollowUp: %v", err)
	}
	got, _ = f.svc.Get(ctx, inv.ID)
	if got.Status != StatusAwaitingFollowUpVisit {
		t.Fatalf("after follow-up request status = %q, want %q", got.Status, StatusAwaitingFollowUpVisit)
	}

	b := fieldvisit.Bundle{Report: &fieldvisit.Report{Text: "patient reports improvement"}}
	step, err := f.svc.SubmitFieldVisit(ctx, inv.ID, workerID, b)
	if err != nil {
		t.Fatalf("second visit: %v", err)
	}
	if !step.Analysis.IsFinalDiagnosisPossible {
		t.Fatalf("second round should allow a final diagnosis")
	}

	if err := f.svc.Finalize(ctx, inv.ID, clinicianID); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got, _ = f.svc.Get(ctx, inv.ID)
	if got.Status != StatusCompleted {
		t.Errorf("final status = %q, want %q", got.Status, StatusCompleted)
	}
	steps, _ := f.svc.Steps(ctx, inv.ID)
	if len(steps) != 2 {
		t.Errorf("steps = %d, want 2", len(steps))
	}
}
