package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/johnperry/ISN/internal/application"
	"github.com/johnperry/ISN/internal/domain"
	"github.com/johnperry/ISN/internal/infrastructure/sqlite"
)

type fakeRegistry struct {
	sets    map[string][]string
	err     error
	queries int
}

func (f *fakeRegistry) QueryDocuments(_ context.Context, _ string) (map[string][]string, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	return f.sets, nil
}

type fakeRepository struct {
	docs      map[string][]byte
	failDocs  map[string]bool
	downloads int
}

func (f *fakeRepository) FetchDocument(_ context.Context, documentID, dir string) (string, error) {
	if f.failDocs[documentID] {
		return "", errors.New("repository unavailable")
	}
	content, ok := f.docs[documentID]
	if !ok {
		return "", fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	f.downloads++
	path := filepath.Join(dir, domain.SafeDirName(documentID))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeImages struct {
	requests []domain.ImageRequest
	empty    bool
	status   string
}

func (f *fakeImages) FetchImages(_ context.Context, dir string, req domain.ImageRequest) (domain.ImageBatch, error) {
	f.requests = append(f.requests, req)
	if f.empty {
		return domain.ImageBatch{Status: f.status}, nil
	}
	var files []string
	for _, uid := range req.ObjectUIDs {
		path := filepath.Join(dir, domain.SafeDirName(uid))
		if err := os.WriteFile(path, []byte("pixels"), 0o644); err != nil {
			return domain.ImageBatch{}, err
		}
		files = append(files, path)
	}
	return domain.ImageBatch{Files: files}, nil
}

type collectingSink struct {
	dir      string
	accepted []string
}

func (s *collectingSink) Accept(ctx context.Context, dir string) error {
	ds := &application.DirSink{QueueDir: s.dir}
	if err := ds.Accept(ctx, dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	s.accepted = s.accepted[:0]
	for _, e := range entries {
		s.accepted = append(s.accepted, e.Name())
	}
	return nil
}

func manifestJSON(t *testing.T, study string, seriesObjects map[string][]string) []byte {
	t.Helper()
	m := domain.ManifestDocument{ManifestUID: "m-" + study, StudyUID: study}
	for series, uids := range seriesObjects {
		s := domain.ManifestSeries{SeriesUID: series}
		for _, uid := range uids {
			s.Objects = append(s.Objects, domain.ObjectRef{ObjectUID: uid})
		}
		m.Series = append(m.Series, s)
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type retrievalHarness struct {
	retrieval *application.Retrieval
	registry  *fakeRegistry
	repo      *fakeRepository
	images    *fakeImages
	sink      *collectingSink
	seen      *sqlite.SeenSet
}

func setupRetrieval(t *testing.T, acceptAlways bool) *retrievalHarness {
	t.Helper()
	h := &retrievalHarness{
		registry: &fakeRegistry{sets: map[string][]string{}},
		repo:     &fakeRepository{docs: map[string][]byte{}, failDocs: map[string]bool{}},
		images:   &fakeImages{},
		sink:     &collectingSink{dir: t.TempDir()},
		seen:     sqlite.NewSeenSet(sqlite.NewStore(sqlite.OpenTestDB(t)), acceptAlways, 0),
	}
	h.retrieval = &application.Retrieval{
		Registry:         h.registry,
		Repository:       h.repo,
		Images:           h.images,
		Seen:             h.seen,
		Sink:             h.sink,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		StagingDir:       t.TempDir(),
		SiteKeys:         []string{"site-1"},
		ImagesPerRequest: 2,
	}
	return h
}

func TestRunCycle_RetrievesClassifiesAndForwards(t *testing.T) {
	h := setupRetrieval(t, false)
	ctx := context.Background()

	h.registry.sets = map[string][]string{
		"ss-1": {"doc-manifest", "doc-report"},
	}
	h.repo.docs["doc-manifest"] = manifestJSON(t, "S1", map[string][]string{
		"S1.A": {"S1.A.1", "S1.A.2", "S1.A.3"},
	})
	h.repo.docs["doc-report"] = []byte("IMPRESSION: unremarkable")

	if err := h.retrieval.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	// The report was wrapped with the study UID discovered from the
	// manifest in the same set.
	var env domain.ReportEnvelope
	b, err := os.ReadFile(filepath.Join(h.sink.dir, "doc-report"))
	if err != nil {
		t.Fatalf("read forwarded report: %v", err)
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("report not wrapped: %v", err)
	}
	if env.StudyUID != "S1" || env.UID != "doc-report" || env.Text != "IMPRESSION: unremarkable" {
		t.Errorf("envelope = %+v", env)
	}

	// Images requested in series batches bounded by the limit: 3
	// objects with limit 2 makes two requests.
	if len(h.images.requests) != 2 {
		t.Fatalf("image requests = %d, want 2", len(h.images.requests))
	}
	if len(h.images.requests[0].ObjectUIDs) != 2 || len(h.images.requests[1].ObjectUIDs) != 1 {
		t.Errorf("batch sizes = %d, %d", len(h.images.requests[0].ObjectUIDs), len(h.images.requests[1].ObjectUIDs))
	}
	for _, req := range h.images.requests {
		if req.StudyUID != "S1" || req.SeriesUID != "S1.A" {
			t.Errorf("request = %+v", req)
		}
	}

	// Everything staged was forwarded: manifest, report, 3 images.
	if len(h.sink.accepted) != 5 {
		t.Errorf("forwarded files = %v", h.sink.accepted)
	}

	if seen, _ := h.seen.Seen(ctx, "ss-1"); !seen {
		t.Error("submission set not marked seen")
	}
}

func TestRunCycle_SecondCycleDownloadsNothing(t *testing.T) {
	h := setupRetrieval(t, false)
	ctx := context.Background()

	h.registry.sets = map[string][]string{"ss-1": {"doc-1"}}
	h.repo.docs["doc-1"] = manifestJSON(t, "S1", map[string][]string{"S1.A": {"S1.A.1"}})

	if err := h.retrieval.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	downloads := h.repo.downloads

	if err := h.retrieval.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if h.repo.downloads != downloads {
		t.Errorf("second cycle downloaded %d documents", h.repo.downloads-downloads)
	}
}

func TestRunCycle_AcceptAlwaysReprocesses(t *testing.T) {
	h := setupRetrieval(t, true)
	ctx := context.Background()

	h.registry.sets = map[string][]string{"ss-1": {"doc-1"}}
	h.repo.docs["doc-1"] = manifestJSON(t, "S1", map[string][]string{"S1.A": {"S1.A.1"}})

	if err := h.retrieval.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.retrieval.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if h.repo.downloads != 2 {
		t.Errorf("downloads = %d, want 2", h.repo.downloads)
	}
}

func TestRunCycle_FailedSetIsIsolatedAndRetried(t *testing.T) {
	h := setupRetrieval(t, false)
	ctx := context.Background()

	h.registry.sets = map[string][]string{
		"ss-bad":  {"doc-bad"},
		"ss-good": {"doc-good"},
	}
	h.repo.docs["doc-good"] = manifestJSON(t, "S2", map[string][]string{"S2.A": {"S2.A.1"}})
	h.repo.failDocs["doc-bad"] = true

	if err := h.retrieval.RunCycle(ctx); err != nil {
		t.Fatalf("one bad set must not fail the cycle: %v", err)
	}

	if seen, _ := h.seen.Seen(ctx, "ss-good"); !seen {
		t.Error("good set not marked seen")
	}
	if seen, _ := h.seen.Seen(ctx, "ss-bad"); seen {
		t.Error("failed set marked seen")
	}

	// The failed set recovers on a later cycle.
	h.repo.failDocs["doc-bad"] = false
	h.repo.docs["doc-bad"] = manifestJSON(t, "S3", map[string][]string{"S3.A": {"S3.A.1"}})
	if err := h.retrieval.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if seen, _ := h.seen.Seen(ctx, "ss-bad"); !seen {
		t.Error("recovered set not marked seen")
	}
}

func TestRunCycle_RegistryFailureAbortsCycle(t *testing.T) {
	h := setupRetrieval(t, false)
	h.registry.err = errors.New("registry unreachable")

	if err := h.retrieval.RunCycle(context.Background()); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestRunCycle_EmptyImageBatchContinues(t *testing.T) {
	h := setupRetrieval(t, false)
	ctx := context.Background()

	h.registry.sets = map[string][]string{"ss-1": {"doc-1"}}
	h.repo.docs["doc-1"] = manifestJSON(t, "S1", map[string][]string{"S1.A": {"S1.A.1"}})
	h.images.empty = true
	h.images.status = "In process"

	if err := h.retrieval.RunCycle(ctx); err != nil {
		t.Fatalf("empty image batch must not fail the cycle: %v", err)
	}
	if len(h.images.requests) != 1 {
		t.Errorf("image requests = %d", len(h.images.requests))
	}
}
