package clearinghouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/johnperry/ISN/internal/domain"
)

// Identity implements [domain.IdentityRegistrar]. A hash key must be
// accepted by both the patient identity feed and the registry feed;
// the PIX endpoint is always called first. Either endpoint answering
// 409 means the key is already known, which callers treat as success.
type Identity struct {
	PIXURL      string
	RegistryURL string
	HTTP        *http.Client
	Logger      *slog.Logger
}

type identityWire struct {
	HashKey string `json:"hashKey"`
}

func (c *Identity) RegisterIdentity(ctx context.Context, hashKey string) error {
	already, err := c.feed(ctx, c.PIXURL, hashKey)
	if err != nil {
		return fmt.Errorf("pix feed: %w", err)
	}
	alreadyReg, err := c.feed(ctx, c.RegistryURL, hashKey)
	if err != nil {
		return fmt.Errorf("registry feed: %w", err)
	}
	if already || alreadyReg {
		if c.Logger != nil {
			c.Logger.Debug("identity already registered", "hashKey", hashKey)
		}
		return domain.ErrAlreadyRegistered
	}
	return nil
}

// feed posts the key to one feed endpoint. Returns true when the feed
// reports the key as already registered.
func (c *Identity) feed(ctx context.Context, baseURL, hashKey string) (bool, error) {
	body, err := json.Marshal(identityWire{HashKey: hashKey})
	if err != nil {
		return false, fmt.Errorf("encode identity: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		normalizeURL(baseURL)+"/api/v1/identities", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient(c.HTTP).Do(req)
	if err != nil {
		return false, fmt.Errorf("register identity: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return true, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	default:
		return false, errorFromResponse("register identity", resp)
	}
}
