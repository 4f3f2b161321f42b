package clearinghouse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// Registry implements [domain.RegistryClient] against the
// clearinghouse registry.
type Registry struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

type submissionSetWire struct {
	ID          string   `json:"id"`
	DocumentIDs []string `json:"documentIDs"`
}

// QueryDocuments returns the approved submission sets for siteKey.
// GET {base}/api/v1/submission-sets?site={siteKey}
func (r *Registry) QueryDocuments(ctx context.Context, siteKey string) (map[string][]string, error) {
	reqURL := fmt.Sprintf("%s/api/v1/submission-sets?site=%s",
		normalizeURL(r.BaseURL), url.QueryEscape(siteKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build registry query: %w", err)
	}
	resp, err := httpClient(r.HTTP).Do(req)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse("query registry", resp)
	}

	var sets []submissionSetWire
	if err := json.NewDecoder(resp.Body).Decode(&sets); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}

	out := make(map[string][]string, len(sets))
	for _, s := range sets {
		out[s.ID] = s.DocumentIDs
	}
	if r.Logger != nil {
		r.Logger.Debug("registry query", "site", siteKey, "submissionSets", len(out))
	}
	return out, nil
}
