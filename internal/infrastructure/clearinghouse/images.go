package clearinghouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/johnperry/ISN/internal/domain"
)

// Images implements [domain.ImageClient] against the clearinghouse
// image retrieval endpoint. Responses are multipart: one part per
// object, identified by an X-Object-UID header. A JSON response means
// the registry returned a disposition without objects.
type Images struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

type imageStatusWire struct {
	Status string `json:"status"`
}

// FetchImages requests one batch of objects and writes each to dir.
// POST {base}/api/v1/images
func (c *Images) FetchImages(ctx context.Context, dir string, req domain.ImageRequest) (domain.ImageBatch, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.ImageBatch{}, fmt.Errorf("encode image request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		normalizeURL(c.BaseURL)+"/api/v1/images", bytes.NewReader(body))
	if err != nil {
		return domain.ImageBatch{}, fmt.Errorf("build image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient(c.HTTP).Do(httpReq)
	if err != nil {
		return domain.ImageBatch{}, fmt.Errorf("fetch images for %s: %w", req.StudyUID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ImageBatch{}, errorFromResponse("fetch images for "+req.StudyUID, resp)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return domain.ImageBatch{}, fmt.Errorf("parse image response type: %w", err)
	}

	if mediaType == "application/json" {
		var st imageStatusWire
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return domain.ImageBatch{}, fmt.Errorf("decode image status: %w", err)
		}
		return domain.ImageBatch{Status: st.Status}, nil
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	var files []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.ImageBatch{Files: files}, fmt.Errorf("read image part: %w", err)
		}
		uid := part.Header.Get("X-Object-UID")
		if uid == "" {
			part.Close()
			return domain.ImageBatch{Files: files}, fmt.Errorf("image part without object UID")
		}
		path := filepath.Join(dir, domain.SafeDirName(uid))
		f, err := os.Create(path)
		if err != nil {
			part.Close()
			return domain.ImageBatch{Files: files}, fmt.Errorf("create image file: %w", err)
		}
		if _, err := io.Copy(f, part); err != nil {
			f.Close()
			part.Close()
			os.Remove(path)
			return domain.ImageBatch{Files: files}, fmt.Errorf("write image %s: %w", uid, err)
		}
		f.Close()
		part.Close()
		files = append(files, path)
	}

	if c.Logger != nil {
		c.Logger.Debug("fetched image batch",
			"studyUID", req.StudyUID, "seriesUID", req.SeriesUID,
			"requested", len(req.ObjectUIDs), "received", len(files))
	}
	return domain.ImageBatch{Files: files}, nil
}
