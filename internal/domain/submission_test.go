package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/johnperry/ISN/internal/domain"
)

// syncRunnerImpl runs activities synchronously (no durability).
type syncRunnerImpl struct {
	ctx context.Context
}

func (s *syncRunnerImpl) ID() string               { return "test-sync" }
func (s *syncRunnerImpl) Context() context.Context { return s.ctx }
func (s *syncRunnerImpl) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(s.ctx, in)
}

// recordingRunner runs activities and records their names in order so
// tests can assert execution sequence.
type recordingRunner struct {
	ctx      context.Context
	names    []string
	delegate domain.DurableRunner
}

func (r *recordingRunner) ID() string               { return r.delegate.ID() }
func (r *recordingRunner) Context() context.Context { return r.ctx }

func (r *recordingRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	r.names = append(r.names, activity.Name())
	return r.delegate.Run(activity, in)
}

// stubRegistrar counts registrations and can simulate transport failure
// or an already-registered key.
type stubRegistrar struct {
	calls      int
	err        error
	registered map[string]bool
}

func (s *stubRegistrar) RegisterIdentity(_ context.Context, hashKey string) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.registered == nil {
		s.registered = make(map[string]bool)
	}
	if s.registered[hashKey] {
		return fmt.Errorf("key %s: %w", hashKey, domain.ErrAlreadyRegistered)
	}
	s.registered[hashKey] = true
	return nil
}

// stubSubmitter emits one ObjectSentEvent per manifest object, then
// returns the configured response or error.
type stubSubmitter struct {
	calls int
	resp  domain.SubmissionResponse
	err   error
	// failAfter, when > 0, aborts transmission after that many objects.
	failAfter int

	sets []domain.SubmissionSet
}

func (s *stubSubmitter) Submit(_ context.Context, set domain.SubmissionSet, progress domain.ProgressFunc) (domain.SubmissionResponse, error) {
	s.calls++
	s.sets = append(s.sets, set)
	total := set.Manifest.ObjectTotal()
	for i, o := range set.Manifest.Objects() {
		if s.failAfter > 0 && i == s.failAfter {
			return domain.SubmissionResponse{}, errors.New("connection reset")
		}
		if progress != nil {
			progress(domain.ObjectSentEvent{File: o.Path, Index: i + 1, Total: total})
		}
	}
	if s.err != nil {
		return domain.SubmissionResponse{}, s.err
	}
	return s.resp, nil
}

func submissionFixture(t *testing.T, objects int) domain.SubmissionRequest {
	t.Helper()
	dir := t.TempDir()
	files := make([]string, 0, objects)
	for i := 0; i < objects; i++ {
		files = append(files, writeTestObject(t, dir, domain.ObjectHeader{
			PatientID: "PID-1",
			StudyUID:  "S1",
			SeriesUID: "S1.A",
			ObjectUID: fmt.Sprintf("S1.A.%d", i+1),
		}))
	}
	return domain.SubmissionRequest{
		StudyUID: "S1",
		Files:    files,
		HashKey:  "abc123",
		SourceID: "site-1",
	}
}

func TestSubmissionWorkflow_Success(t *testing.T) {
	registrar := &stubRegistrar{}
	submitter := &stubSubmitter{resp: domain.SubmissionResponse{Status: domain.StatusSuccessResponse}}

	var sent []domain.ObjectSentEvent
	wf := &domain.SubmissionWorkflow{
		Identity:  registrar,
		Submitter: submitter,
		Progress: func(ev domain.SubmissionEvent) {
			if e, ok := ev.(domain.ObjectSentEvent); ok {
				sent = append(sent, e)
			}
		},
	}

	ctx := context.Background()
	recorder := &recordingRunner{ctx: ctx, delegate: &syncRunnerImpl{ctx: ctx}}
	res, err := wf.Run(recorder, submissionFixture(t, 3))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Message)
	}
	if res.ObjectsSent != 3 {
		t.Errorf("objectsSent = %d, want 3", res.ObjectsSent)
	}
	if registrar.calls != 1 || submitter.calls != 1 {
		t.Errorf("registrar calls = %d, submitter calls = %d", registrar.calls, submitter.calls)
	}
	if submitter.sets[0].SourceID != "site-1" || submitter.sets[0].HashKey != "abc123" {
		t.Errorf("submission set credentials: %+v", submitter.sets[0])
	}

	// Progress indices never decrease within the attempt, and every
	// event carries the study UID for routing.
	last := 0
	for _, e := range sent {
		if e.Index <= last {
			t.Errorf("progress index went backwards: %d after %d", e.Index, last)
		}
		last = e.Index
		if e.StudyUID != "S1" {
			t.Errorf("event study UID = %q", e.StudyUID)
		}
	}
}

func TestSubmissionWorkflow_RegistrationPrecedesSubmission(t *testing.T) {
	wf := &domain.SubmissionWorkflow{
		Identity:  &stubRegistrar{},
		Submitter: &stubSubmitter{resp: domain.SubmissionResponse{Status: domain.StatusSuccessResponse}},
	}
	ctx := context.Background()
	recorder := &recordingRunner{ctx: ctx, delegate: &syncRunnerImpl{ctx: ctx}}
	if _, err := wf.Run(recorder, submissionFixture(t, 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	registerAt, submitAt := -1, -1
	for i, n := range recorder.names {
		switch n {
		case "register-identity":
			registerAt = i
		case "submit-documents":
			if submitAt < 0 {
				submitAt = i
			}
		}
	}
	if registerAt < 0 || submitAt < 0 {
		t.Fatalf("activities recorded: %v", recorder.names)
	}
	if registerAt >= submitAt {
		t.Errorf("register-identity at %d must precede submit-documents at %d", registerAt, submitAt)
	}
}

func TestSubmissionWorkflow_RegistrationFailureIsRetryAndStopsSubmission(t *testing.T) {
	submitter := &stubSubmitter{resp: domain.SubmissionResponse{Status: domain.StatusSuccessResponse}}
	wf := &domain.SubmissionWorkflow{
		Identity:  &stubRegistrar{err: errors.New("identity feed unreachable")},
		Submitter: submitter,
	}
	ctx := context.Background()
	res, err := wf.Run(&syncRunnerImpl{ctx: ctx}, submissionFixture(t, 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != domain.OutcomeRetry {
		t.Errorf("outcome = %s, want RETRY", res.Outcome)
	}
	if submitter.calls != 0 {
		t.Error("submission must not run after registration failure")
	}
}

func TestSubmissionWorkflow_AlreadyRegisteredIsSuccess(t *testing.T) {
	// The same key registered by two attempts must succeed both times.
	registrar := &stubRegistrar{}
	wf := &domain.SubmissionWorkflow{
		Identity:  registrar,
		Submitter: &stubSubmitter{resp: domain.SubmissionResponse{Status: domain.StatusSuccessResponse}},
	}
	ctx := context.Background()
	for attempt := 0; attempt < 2; attempt++ {
		res, err := wf.Run(&syncRunnerImpl{ctx: ctx}, submissionFixture(t, 1))
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if res.Outcome != domain.OutcomeSuccess {
			t.Fatalf("attempt %d outcome = %s (%s)", attempt, res.Outcome, res.Message)
		}
	}
	if registrar.calls != 2 {
		t.Errorf("registrar calls = %d, want 2", registrar.calls)
	}
}

func TestSubmissionWorkflow_RejectionIsFailWithMessage(t *testing.T) {
	wf := &domain.SubmissionWorkflow{
		Identity: &stubRegistrar{},
		Submitter: &stubSubmitter{resp: domain.SubmissionResponse{
			Status: "Failure",
			Errors: []string{"", "XDSRepositoryMetadataError: patient ID mismatch"},
		}},
	}
	ctx := context.Background()
	res, err := wf.Run(&syncRunnerImpl{ctx: ctx}, submissionFixture(t, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != domain.OutcomeFail {
		t.Errorf("outcome = %s, want FAIL", res.Outcome)
	}
	if res.Message != "XDSRepositoryMetadataError: patient ID mismatch" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestSubmissionWorkflow_TransportFailureIsRetryWithPartialCount(t *testing.T) {
	wf := &domain.SubmissionWorkflow{
		Identity:  &stubRegistrar{},
		Submitter: &stubSubmitter{failAfter: 2},
	}
	ctx := context.Background()
	res, err := wf.Run(&syncRunnerImpl{ctx: ctx}, submissionFixture(t, 4))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != domain.OutcomeRetry {
		t.Errorf("outcome = %s, want RETRY", res.Outcome)
	}
	if res.ObjectsSent != 2 {
		t.Errorf("objectsSent = %d, want 2", res.ObjectsSent)
	}
}

func TestSubmissionWorkflow_UnreadableObjectIsFail(t *testing.T) {
	wf := &domain.SubmissionWorkflow{
		Identity:  &stubRegistrar{},
		Submitter: &stubSubmitter{},
	}
	ctx := context.Background()
	req := submissionFixture(t, 1)
	req.Files = append(req.Files, req.Files[0]+".missing")
	res, err := wf.Run(&syncRunnerImpl{ctx: ctx}, req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != domain.OutcomeFail {
		t.Errorf("outcome = %s, want FAIL", res.Outcome)
	}
}
