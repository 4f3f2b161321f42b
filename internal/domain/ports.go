package domain

import "context"

// RegistryClient queries the clearinghouse registry for submission
// sets visible to a site.
type RegistryClient interface {
	// QueryDocuments returns the document IDs of every approved
	// submission set for the site key, keyed by submission-set ID.
	QueryDocuments(ctx context.Context, siteKey string) (map[string][]string, error)
}

// RepositoryClient fetches individual documents from the clearinghouse
// repository.
type RepositoryClient interface {
	// FetchDocument downloads one document into dir and returns the
	// path of the written file.
	FetchDocument(ctx context.Context, documentID, dir string) (string, error)
}

// ImageRequest asks for a batch of image objects from one series.
type ImageRequest struct {
	StudyUID       string
	SeriesUID      string
	ObjectUIDs     []string
	TransferSyntax string
}

// ImageBatch is the result of one batched image fetch.
type ImageBatch struct {
	// Files are the paths of the retrieved objects.
	Files []string
	// Status is the registry's disposition when no objects were
	// returned, for logging.
	Status string
}

// ImageClient retrieves image objects in batches. Callers split large
// series into requests no bigger than the client's per-request limit.
type ImageClient interface {
	FetchImages(ctx context.Context, dir string, req ImageRequest) (ImageBatch, error)
}

// IdentityRegistrar registers derived patient keys with the
// clearinghouse identity service.
type IdentityRegistrar interface {
	// RegisterIdentity registers hashKey. Returns ErrAlreadyRegistered
	// when the key is already known; callers treat that as success.
	RegisterIdentity(ctx context.Context, hashKey string) error
}

// SubmissionSet bundles a manifest and the objects it references for
// one submission call.
type SubmissionSet struct {
	SourceID string
	HashKey  string
	Manifest ManifestDocument
}

// StatusSuccessResponse is the remote status value indicating an
// accepted submission.
const StatusSuccessResponse = "Success"

// SubmissionResponse is the parsed outcome of a document-set
// submission.
type SubmissionResponse struct {
	Status string   `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// OK reports whether the submission was accepted.
func (r SubmissionResponse) OK() bool {
	return r.Status == StatusSuccessResponse
}

// ErrorMessage extracts the most explanatory error text from a
// non-success response: the last non-empty entry of the error list,
// else the raw status.
func (r SubmissionResponse) ErrorMessage() string {
	for i := len(r.Errors) - 1; i >= 0; i-- {
		if r.Errors[i] != "" {
			return r.Errors[i]
		}
	}
	if r.Status == "" {
		return "submission failed"
	}
	return r.Status
}

// DocumentSetSubmitter transmits a submission set to the
// clearinghouse repository. Object payloads are streamed from the
// paths recorded in the manifest; they are never buffered whole.
type DocumentSetSubmitter interface {
	Submit(ctx context.Context, set SubmissionSet, progress ProgressFunc) (SubmissionResponse, error)
}
