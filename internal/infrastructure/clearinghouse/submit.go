package clearinghouse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/johnperry/ISN/internal/domain"
)

// Submitter implements [domain.DocumentSetSubmitter]. The submission
// is a multipart request: the manifest JSON first, then one part per
// object. Object payloads are opened one at a time and streamed
// straight into the request body, so a study never resides in memory.
type Submitter struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

func (c *Submitter) Submit(ctx context.Context, set domain.SubmissionSet, progress domain.ProgressFunc) (domain.SubmissionResponse, error) {
	manifestJSON, err := set.Manifest.WireJSON()
	if err != nil {
		return domain.SubmissionResponse{}, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeSubmission(ctx, mw, set, manifestJSON, progress))
	}()

	reqURL := fmt.Sprintf("%s/api/v1/submission-sets?source=%s",
		normalizeURL(c.BaseURL), set.SourceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, pr)
	if err != nil {
		return domain.SubmissionResponse{}, fmt.Errorf("build submission: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Hash-Key", set.HashKey)

	resp, err := httpClient(c.HTTP).Do(req)
	if err != nil {
		return domain.SubmissionResponse{}, fmt.Errorf("submit %s: %w", set.Manifest.StudyUID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.SubmissionResponse{}, fmt.Errorf("read submission response: %w", err)
	}

	var parsed domain.SubmissionResponse
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil && parsed.Status != "" {
		// A structured response, accepted or rejected, is a completed
		// exchange; the caller classifies it.
		if c.Logger != nil {
			c.Logger.Debug("submission response",
				"studyUID", set.Manifest.StudyUID, "status", parsed.Status, "errors", len(parsed.Errors))
		}
		return parsed, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return domain.SubmissionResponse{}, fmt.Errorf("submit %s: status %d: %s",
			set.Manifest.StudyUID, resp.StatusCode, msg)
	}
	return domain.SubmissionResponse{}, fmt.Errorf("submit %s: unparseable response", set.Manifest.StudyUID)
}

// writeSubmission streams the manifest and object payloads into the
// multipart writer. The context is observed between objects; an
// in-flight object is never truncated by cancellation.
func writeSubmission(ctx context.Context, mw *multipart.Writer, set domain.SubmissionSet, manifestJSON []byte, progress domain.ProgressFunc) error {
	mh := textproto.MIMEHeader{}
	mh.Set("Content-Type", domain.ManifestContentType)
	mh.Set("X-Document-UID", set.Manifest.ManifestUID)
	part, err := mw.CreatePart(mh)
	if err != nil {
		return fmt.Errorf("create manifest part: %w", err)
	}
	if _, err := part.Write(manifestJSON); err != nil {
		return fmt.Errorf("write manifest part: %w", err)
	}

	objects := set.Manifest.Objects()
	for i, o := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}

		oh := textproto.MIMEHeader{}
		oh.Set("Content-Type", "application/octet-stream")
		oh.Set("X-Object-UID", o.ObjectUID)
		part, err := mw.CreatePart(oh)
		if err != nil {
			return fmt.Errorf("create object part: %w", err)
		}

		payload, _, err := domain.OpenObjectPayload(o.Path)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, payload)
		payload.Close()
		if err != nil {
			return fmt.Errorf("stream object %s: %w", o.ObjectUID, err)
		}

		if progress != nil {
			progress(domain.ObjectSentEvent{
				StudyUID: set.Manifest.StudyUID,
				File:     o.Path,
				Index:    i + 1,
				Total:    len(objects),
			})
		}
	}
	return mw.Close()
}
