package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/johnperry/ISN/internal/domain"
)

// DefaultImagesPerRequest bounds one batched image fetch.
const DefaultImagesPerRequest = 10

// Retrieval pulls newly approved submission sets from the
// clearinghouse: query the registry per site key, download and
// classify each set's documents, then fetch the referenced images in
// batches. Retrieved files land in a staging directory and are handed
// to the sink at the end of every cycle.
type Retrieval struct {
	Registry   domain.RegistryClient
	Repository domain.RepositoryClient
	Images     domain.ImageClient
	Seen       domain.SeenSet
	Sink       Sink
	Logger     *slog.Logger

	StagingDir       string
	SiteKeys         []string
	ImagesPerRequest int
}

func (r *Retrieval) imagesPerRequest() int {
	if r.ImagesPerRequest > 0 {
		return r.ImagesPerRequest
	}
	return DefaultImagesPerRequest
}

// RunCycle performs one retrieval pass over every site key. A registry
// failure aborts the cycle; everything below the registry is isolated
// per submission set and per document.
func (r *Retrieval) RunCycle(ctx context.Context) error {
	if err := os.MkdirAll(r.StagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	for _, site := range r.SiteKeys {
		sets, err := r.Registry.QueryDocuments(ctx, site)
		if err != nil {
			return fmt.Errorf("site %s: %w", site, err)
		}

		setIDs := make([]string, 0, len(sets))
		for id := range sets {
			setIDs = append(setIDs, id)
		}
		sort.Strings(setIDs)

		for _, setID := range setIDs {
			seen, err := r.Seen.Seen(ctx, setID)
			if err != nil {
				return err
			}
			if seen {
				continue
			}

			infos, err := r.processSet(ctx, setID, sets[setID])
			if err != nil {
				// Not marked seen; the set is retried next cycle.
				r.Logger.Error("process submission set", "submissionSet", setID, "error", err)
				continue
			}
			if err := r.Seen.Record(ctx, setID); err != nil {
				return err
			}

			for _, info := range infos {
				r.fetchStudyImages(ctx, info)
			}
		}
	}

	return r.Sink.Accept(ctx, r.StagingDir)
}

// processSet downloads and classifies every document of one submission
// set. Unparseable documents are reports; their study association is
// discovered from the set's manifest and applied afterwards.
func (r *Retrieval) processSet(ctx context.Context, setID string, docIDs []string) ([]domain.DocumentInfo, error) {
	var infos []domain.DocumentInfo
	var deferred []struct{ path, uid string }

	for _, docID := range docIDs {
		path, err := r.Repository.FetchDocument(ctx, docID, r.StagingDir)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", docID, err)
		}
		documentsRetrieved.Inc()

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", docID, err)
		}
		m, err := domain.ParseManifest(content)
		switch {
		case err == nil:
			infos = append(infos, m.Info(docID))
		case errors.Is(err, domain.ErrInvalidArgument):
			deferred = append(deferred, struct{ path, uid string }{path, docID})
		default:
			return nil, fmt.Errorf("classify document %s: %w", docID, err)
		}
	}

	if len(deferred) > 0 {
		if len(infos) == 0 {
			r.Logger.Warn("reports without a manifest in submission set",
				"submissionSet", setID, "reports", len(deferred))
		} else {
			studyUID := infos[0].StudyUID
			for _, d := range deferred {
				if err := domain.WrapReportFile(d.path, d.uid, studyUID); err != nil {
					return nil, err
				}
			}
		}
	}

	r.Logger.Info("submission set retrieved",
		"submissionSet", setID, "manifests", len(infos), "reports", len(deferred))
	return infos, nil
}

// fetchStudyImages retrieves a study's objects series by series in
// bounded batches. Failures and empty batches are logged per request
// and never abort the remaining series.
func (r *Retrieval) fetchStudyImages(ctx context.Context, info domain.DocumentInfo) {
	limit := r.imagesPerRequest()
	for _, seriesUID := range info.SeriesUIDs {
		uids := info.Objects[seriesUID]
		for start := 0; start < len(uids); start += limit {
			end := start + limit
			if end > len(uids) {
				end = len(uids)
			}
			batch, err := r.Images.FetchImages(ctx, r.StagingDir, domain.ImageRequest{
				StudyUID:       info.StudyUID,
				SeriesUID:      seriesUID,
				ObjectUIDs:     uids[start:end],
				TransferSyntax: info.TransferSyntax,
			})
			if err != nil {
				r.Logger.Error("fetch images",
					"studyUID", info.StudyUID, "seriesUID", seriesUID, "error", err)
				continue
			}
			if len(batch.Files) == 0 {
				r.Logger.Info("image batch empty",
					"studyUID", info.StudyUID, "seriesUID", seriesUID, "registryStatus", batch.Status)
				continue
			}
			imagesRetrieved.Add(float64(len(batch.Files)))
		}
	}
}

// Poller drives retrieval cycles at a fixed interval until its context
// is cancelled.
type Poller struct {
	Retrieval *Retrieval
	Interval  time.Duration
	Logger    *slog.Logger
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Retrieval.RunCycle(ctx); err != nil {
				p.Logger.Error("retrieval cycle", "error", err)
			}
		}
	}
}
