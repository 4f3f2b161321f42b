// Package clearinghouse provides the HTTP clients for the remote
// exchange: registry query, document and image retrieval, identity
// registration and document-set submission.
package clearinghouse

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout applies when a client is constructed without an
// explicit HTTP client.
const DefaultTimeout = 30 * time.Second

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func normalizeURL(rawURL string) string {
	return strings.TrimRight(rawURL, "/")
}

// errorFromResponse drains up to a short prefix of the body for the
// error message.
func errorFromResponse(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, msg)
}
