package domain

import (
	"context"
	"errors"
	"fmt"
)

// SubmissionOutcome classifies how a submission attempt ended.
type SubmissionOutcome string

const (
	// OutcomeSuccess: the clearinghouse accepted the study.
	OutcomeSuccess SubmissionOutcome = "SUCCESS"

	// OutcomeRetry: a transient failure (transport, identity feed). The
	// attempt may be repeated without operator action.
	OutcomeRetry SubmissionOutcome = "RETRY"

	// OutcomeFail: a structural failure (unreadable objects, structured
	// rejection). Repeating the attempt unchanged will fail again.
	OutcomeFail SubmissionOutcome = "FAIL"
)

// SubmissionRequest is the input of one submission workflow execution.
type SubmissionRequest struct {
	StudyUID string   `json:"studyUID"`
	Files    []string `json:"files"`
	HashKey  string   `json:"hashKey"`
	SourceID string   `json:"sourceID"`
}

// SubmissionResult is the terminal outcome of a submission workflow.
type SubmissionResult struct {
	Outcome     SubmissionOutcome `json:"outcome"`
	Message     string            `json:"message,omitempty"`
	ObjectsSent int               `json:"objectsSent"`
}

// BuildManifestsInput carries the file set to index.
type BuildManifestsInput struct {
	StudyUID string   `json:"studyUID"`
	Files    []string `json:"files"`
}

// BuildManifestsOutput carries the generated manifests. The file set of
// one study normally yields exactly one manifest.
type BuildManifestsOutput struct {
	Manifests []ManifestDocument `json:"manifests"`
}

// RegisterIdentityInput carries the hash key to register.
type RegisterIdentityInput struct {
	HashKey string `json:"hashKey"`
}

// SubmitInput carries one manifest and the credentials to submit under.
type SubmitInput struct {
	SourceID string           `json:"sourceID"`
	HashKey  string           `json:"hashKey"`
	Manifest ManifestDocument `json:"manifest"`
}

// SubmitOutput carries the remote response and the number of objects
// transmitted.
type SubmitOutput struct {
	Response    SubmissionResponse `json:"response"`
	ObjectsSent int                `json:"objectsSent"`
}

// SubmissionWorkflow submits one study to the clearinghouse: index the
// cached objects into a manifest, register the patient hash key with
// the identity feed, then transmit the manifest and object payloads.
// Identity registration is strictly ordered before transmission; its
// failure stops the attempt.
type SubmissionWorkflow struct {
	Identity  IdentityRegistrar
	Submitter DocumentSetSubmitter

	// Progress, when set, receives per-object events during indexing
	// and transmission.
	Progress ProgressFunc
}

func (wf *SubmissionWorkflow) Name() string { return "study-submission" }

// BuildManifests returns the activity that indexes the cached files
// into manifests. Payloads are not read.
func (wf *SubmissionWorkflow) BuildManifests() Activity[BuildManifestsInput, BuildManifestsOutput] {
	return NewActivity("build-manifests", func(_ context.Context, in BuildManifestsInput) (BuildManifestsOutput, error) {
		manifests, err := BuildManifests(in.Files, wf.Progress)
		if err != nil {
			return BuildManifestsOutput{}, err
		}
		return BuildManifestsOutput{Manifests: manifests}, nil
	})
}

// RegisterIdentity returns the activity that registers the patient
// hash key. An already-registered key is success.
func (wf *SubmissionWorkflow) RegisterIdentity() Activity[RegisterIdentityInput, struct{}] {
	return NewActivity("register-identity", func(ctx context.Context, in RegisterIdentityInput) (struct{}, error) {
		err := wf.Identity.RegisterIdentity(ctx, in.HashKey)
		if err != nil && !errors.Is(err, ErrAlreadyRegistered) {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// SubmitDocuments returns the activity that transmits one manifest and
// its object payloads.
func (wf *SubmissionWorkflow) SubmitDocuments() Activity[SubmitInput, SubmitOutput] {
	return NewActivity("submit-documents", func(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
		sent := 0
		progress := func(ev SubmissionEvent) {
			if e, ok := ev.(ObjectSentEvent); ok {
				if e.StudyUID == "" {
					e.StudyUID = in.Manifest.StudyUID
					ev = e
				}
				sent++
			}
			if wf.Progress != nil {
				wf.Progress(ev)
			}
		}
		resp, err := wf.Submitter.Submit(ctx, SubmissionSet{
			SourceID: in.SourceID,
			HashKey:  in.HashKey,
			Manifest: in.Manifest,
		}, progress)
		if err != nil {
			return SubmitOutput{ObjectsSent: sent}, err
		}
		return SubmitOutput{Response: resp, ObjectsSent: sent}, nil
	})
}

// Run executes the submission. Activity failures never propagate as
// workflow errors; they are classified into the result so the caller
// can record the study's terminal status.
func (wf *SubmissionWorkflow) Run(runner DurableRunner, req SubmissionRequest) (SubmissionResult, error) {
	built, err := RunActivity(runner, wf.BuildManifests(), BuildManifestsInput{
		StudyUID: req.StudyUID,
		Files:    req.Files,
	})
	if err != nil {
		return SubmissionResult{
			Outcome: OutcomeFail,
			Message: fmt.Sprintf("index study: %v", err),
		}, nil
	}
	if len(built.Manifests) == 0 {
		return SubmissionResult{
			Outcome: OutcomeFail,
			Message: "no objects to submit",
		}, nil
	}

	if _, err := RunActivity(runner, wf.RegisterIdentity(), RegisterIdentityInput{HashKey: req.HashKey}); err != nil {
		return SubmissionResult{
			Outcome: OutcomeRetry,
			Message: fmt.Sprintf("register identity: %v", err),
		}, nil
	}

	sent := 0
	for _, m := range built.Manifests {
		out, err := RunActivity(runner, wf.SubmitDocuments(), SubmitInput{
			SourceID: req.SourceID,
			HashKey:  req.HashKey,
			Manifest: m,
		})
		sent += out.ObjectsSent
		if err != nil {
			return SubmissionResult{
				Outcome:     OutcomeRetry,
				Message:     fmt.Sprintf("submit documents: %v", err),
				ObjectsSent: sent,
			}, nil
		}
		if !out.Response.OK() {
			return SubmissionResult{
				Outcome:     OutcomeFail,
				Message:     out.Response.ErrorMessage(),
				ObjectsSent: sent,
			}, nil
		}
	}

	return SubmissionResult{Outcome: OutcomeSuccess, ObjectsSent: sent}, nil
}
