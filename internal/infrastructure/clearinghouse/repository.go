package clearinghouse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/johnperry/ISN/internal/domain"
)

// Repository implements [domain.RepositoryClient] against the
// clearinghouse document repository.
type Repository struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

// FetchDocument downloads one document into dir and returns the path
// of the written file.
// GET {base}/api/v1/documents/{documentID}
func (r *Repository) FetchDocument(ctx context.Context, documentID, dir string) (string, error) {
	reqURL := fmt.Sprintf("%s/api/v1/documents/%s",
		normalizeURL(r.BaseURL), url.PathEscape(documentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build document fetch: %w", err)
	}
	resp, err := httpClient(r.HTTP).Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch document %s: %w", documentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errorFromResponse("fetch document "+documentID, resp)
	}

	path := filepath.Join(dir, domain.SafeDirName(documentID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create document file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write document %s: %w", documentID, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close document file: %w", err)
	}
	if r.Logger != nil {
		r.Logger.Debug("fetched document", "documentID", documentID, "path", path)
	}
	return path, nil
}
