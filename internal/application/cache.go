package application

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/johnperry/ISN/internal/domain"
)

// lockStripes is the number of per-study mutex stripes.
const lockStripes = 32

// IncomingObject is one object presented to the cache: descriptive
// header plus payload bytes.
type IncomingObject struct {
	Header  domain.ObjectHeader
	Payload io.Reader
}

// Cache aggregates incoming objects into studies, tracks each study's
// lifecycle and dispatches completed studies to the submission
// workflow. It is the single writer of study records; mutations of the
// same study are serialized by striped per-UID locks.
type Cache struct {
	Repo         domain.StudyRepository
	Root         string
	Destinations *domain.DestinationSet
	Runner       domain.SubmissionRunner
	Pool         *Pool
	Logger       *slog.Logger

	// HashKey derives the patient hash key submitted for a study.
	HashKey func(domain.Study) string

	locks [lockStripes]sync.Mutex
}

func (c *Cache) lock(studyUID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(studyUID))
	return &c.locks[h.Sum32()%lockStripes]
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Store accepts one object into the cache. The study UID is resolved
// from identity when given, else from the object's own header; the
// payload is always written with the object's own header. Re-storing
// an object overwrites its file without changing the count. A study in
// any resting state re-opens, restarting its completion timer.
func (c *Cache) Store(ctx context.Context, obj IncomingObject, identity *domain.ObjectHeader) error {
	if identity == nil {
		identity = &obj.Header
	}
	if err := identity.Validate(); err != nil {
		return err
	}
	if err := obj.Header.Validate(); err != nil {
		return err
	}
	studyUID := identity.StudyUID

	mu := c.lock(studyUID)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Join(c.Root, domain.SafeDirName(studyUID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create study dir: %w", err)
	}

	path := filepath.Join(dir, domain.SafeDirName(obj.Header.ObjectUID))
	_, statErr := os.Stat(path)
	existed := statErr == nil

	if err := domain.WriteObjectFile(path, obj.Header, obj.Payload); err != nil {
		return err
	}

	study, err := c.Repo.Get(ctx, studyUID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		study = domain.NewStudy(*identity, dir)
		study.MergeMetadata(obj.Header)
	case err != nil:
		return err
	default:
		study.MergeMetadata(obj.Header)
	}

	if !existed {
		study.ObjectCount++
	}
	study.LastModified = time.Now().UTC()
	study.Status = domain.StatusOpen

	if err := c.Repo.Put(ctx, study); err != nil {
		return err
	}
	objectsStored.Inc()
	return nil
}

// CheckOpenStudies promotes every OPEN study last modified before
// cutoff to COMPLETE.
func (c *Cache) CheckOpenStudies(ctx context.Context, cutoff time.Time) error {
	open, err := c.Repo.ListByStatus(ctx, domain.StatusOpen)
	if err != nil {
		return err
	}
	for _, s := range open {
		if !s.LastModified.Before(cutoff) {
			continue
		}
		if err := c.transition(ctx, s.StudyUID, domain.StatusOpen, func(st *domain.Study) {
			st.Status = domain.StatusComplete
		}); err != nil {
			return err
		}
		c.logger().Info("study complete", "studyUID", s.StudyUID, "objects", s.ObjectCount)
	}
	return nil
}

// DeleteTransmittedStudies removes every SUCCESS study last modified
// before cutoff: storage first, then the record. A storage failure is
// reported but does not keep the record.
func (c *Cache) DeleteTransmittedStudies(ctx context.Context, cutoff time.Time) error {
	sent, err := c.Repo.ListByStatus(ctx, domain.StatusSuccess)
	if err != nil {
		return err
	}
	var firstErr error
	for _, s := range sent {
		if !s.LastModified.Before(cutoff) {
			continue
		}
		mu := c.lock(s.StudyUID)
		mu.Lock()
		if err := os.RemoveAll(s.Dir); err != nil {
			c.logger().Error("delete study storage", "studyUID", s.StudyUID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := c.Repo.Remove(ctx, s.StudyUID); err != nil {
			mu.Unlock()
			return err
		}
		mu.Unlock()
		c.logger().Info("transmitted study removed", "studyUID", s.StudyUID)
	}
	return firstErr
}

// SendStudy assigns the destination, marks the study QUEUED and hands
// the submission to the worker pool. Only COMPLETE and FAILED studies
// may be sent. Returns before any network work happens.
func (c *Cache) SendStudy(ctx context.Context, destKey, studyUID string) error {
	dest, err := c.Destinations.Get(destKey)
	if err != nil {
		return err
	}

	mu := c.lock(studyUID)
	mu.Lock()
	study, err := c.Repo.Get(ctx, studyUID)
	if err != nil {
		mu.Unlock()
		return err
	}
	if !study.Status.Sendable() {
		mu.Unlock()
		return fmt.Errorf("%w: study %s is %s", domain.ErrInvalidArgument, studyUID, study.Status)
	}
	study.Destination = dest.Key
	study.DestinationName = c.Destinations.Name(dest.Key)
	study.Status = domain.StatusQueued
	study.Message = ""
	study.ObjectsSubmitted = 0
	if err := c.Repo.Put(ctx, study); err != nil {
		mu.Unlock()
		return err
	}
	mu.Unlock()

	c.Pool.Submit(func() { c.submit(dest, studyUID) })
	return nil
}

// SendCompleteStudies queues every COMPLETE study for the destination.
// The autosend sweep.
func (c *Cache) SendCompleteStudies(ctx context.Context, destKey string) error {
	complete, err := c.Repo.ListByStatus(ctx, domain.StatusComplete)
	if err != nil {
		return err
	}
	for _, s := range complete {
		if err := c.SendStudy(ctx, destKey, s.StudyUID); err != nil {
			return err
		}
	}
	return nil
}

// submit runs one submission attempt on a pool worker.
func (c *Cache) submit(dest domain.Destination, studyUID string) {
	ctx := context.Background()
	log := c.logger().With("studyUID", studyUID, "destination", dest.Key)

	mu := c.lock(studyUID)
	mu.Lock()
	study, err := c.Repo.Get(ctx, studyUID)
	if err != nil {
		mu.Unlock()
		log.Error("load queued study", "error", err)
		return
	}
	if study.Status != domain.StatusQueued {
		mu.Unlock()
		log.Warn("queued study in unexpected status", "status", study.Status)
		return
	}
	study.Status = domain.StatusInTransit
	if err := c.Repo.Put(ctx, study); err != nil {
		mu.Unlock()
		log.Error("mark study in transit", "error", err)
		return
	}
	mu.Unlock()

	files, err := studyFiles(study.Dir)
	if err == nil && len(files) == 0 {
		err = fmt.Errorf("study %s has no cached objects", studyUID)
	}

	var result domain.SubmissionResult
	if err != nil {
		result = domain.SubmissionResult{Outcome: domain.OutcomeFail, Message: err.Error()}
	} else {
		var hashKey string
		if c.HashKey != nil {
			hashKey = c.HashKey(study)
		}
		result = c.runWorkflow(ctx, domain.SubmissionRequest{
			StudyUID: studyUID,
			Files:    files,
			HashKey:  hashKey,
			SourceID: dest.SourceID,
		})
	}

	mu.Lock()
	defer mu.Unlock()
	study, getErr := c.Repo.Get(ctx, studyUID)
	if getErr != nil {
		log.Error("load study after submission", "error", getErr)
		return
	}

	submissions.WithLabelValues(string(result.Outcome)).Inc()
	switch result.Outcome {
	case domain.OutcomeSuccess:
		study.Status = domain.StatusSuccess
		study.Message = ""
		study.ObjectsSubmitted = result.ObjectsSent
		study.LastModified = time.Now().UTC()
		log.Info("study submitted", "objects", result.ObjectsSent)
	default:
		study.Status = domain.StatusFailed
		study.Message = result.Message
		log.Error("study submission failed",
			"outcome", result.Outcome, "message", result.Message)
	}
	if err := c.Repo.Put(ctx, study); err != nil {
		log.Error("record submission outcome", "error", err)
	}
}

func (c *Cache) runWorkflow(ctx context.Context, req domain.SubmissionRequest) domain.SubmissionResult {
	handle, err := c.Runner.Run(ctx, req)
	if err != nil {
		return domain.SubmissionResult{Outcome: domain.OutcomeRetry, Message: err.Error()}
	}
	result, err := handle.AwaitResult(ctx)
	if err != nil {
		return domain.SubmissionResult{Outcome: domain.OutcomeRetry, Message: err.Error()}
	}
	return result
}

// NoteProgress receives submission progress events and advances
// objectsSubmitted on the study record. The count never moves
// backwards within an attempt.
func (c *Cache) NoteProgress(ev domain.SubmissionEvent) {
	e, ok := ev.(domain.ObjectSentEvent)
	if !ok || e.StudyUID == "" {
		return
	}
	ctx := context.Background()

	mu := c.lock(e.StudyUID)
	mu.Lock()
	defer mu.Unlock()
	study, err := c.Repo.Get(ctx, e.StudyUID)
	if err != nil {
		return
	}
	if study.Status != domain.StatusInTransit || e.Index <= study.ObjectsSubmitted {
		return
	}
	study.ObjectsSubmitted = e.Index
	if err := c.Repo.Put(ctx, study); err != nil {
		c.logger().Error("record submission progress", "studyUID", e.StudyUID, "error", err)
	}
}

// DeleteStudy removes a study and its storage. Studies in transit
// cannot be deleted.
func (c *Cache) DeleteStudy(ctx context.Context, studyUID string) error {
	mu := c.lock(studyUID)
	mu.Lock()
	defer mu.Unlock()

	study, err := c.Repo.Get(ctx, studyUID)
	if err != nil {
		return err
	}
	if study.Status == domain.StatusInTransit {
		return fmt.Errorf("%w: study %s is in transit", domain.ErrInvalidArgument, studyUID)
	}
	if err := os.RemoveAll(study.Dir); err != nil {
		c.logger().Error("delete study storage", "studyUID", studyUID, "error", err)
	}
	return c.Repo.Remove(ctx, studyUID)
}

// Recount re-derives a study's object count from its storage
// directory.
func (c *Cache) Recount(ctx context.Context, studyUID string) (domain.Study, error) {
	mu := c.lock(studyUID)
	mu.Lock()
	defer mu.Unlock()

	study, err := c.Repo.Get(ctx, studyUID)
	if err != nil {
		return domain.Study{}, err
	}
	files, err := studyFiles(study.Dir)
	if err != nil {
		return domain.Study{}, err
	}
	study.ObjectCount = len(files)
	if err := c.Repo.Put(ctx, study); err != nil {
		return domain.Study{}, err
	}
	return study, nil
}

// ReconcileInTransit marks studies stranded by a previous shutdown.
// QUEUED and INTRANSIT records found at startup become FAILED and wait
// for a manual re-queue.
func (c *Cache) ReconcileInTransit(ctx context.Context) error {
	stranded, err := c.Repo.ListByStatus(ctx, domain.StatusQueued, domain.StatusInTransit)
	if err != nil {
		return err
	}
	for _, s := range stranded {
		if err := c.transition(ctx, s.StudyUID, s.Status, func(st *domain.Study) {
			st.Status = domain.StatusFailed
			st.Message = "submission interrupted by restart"
		}); err != nil {
			return err
		}
		c.logger().Warn("stranded submission reconciled", "studyUID", s.StudyUID, "was", s.Status)
	}
	return nil
}

// GetStudy returns one study by UID.
func (c *Cache) GetStudy(ctx context.Context, studyUID string) (domain.Study, error) {
	return c.Repo.Get(ctx, studyUID)
}

// ActiveStudies returns studies still accumulating objects, sorted by
// patient ID.
func (c *Cache) ActiveStudies(ctx context.Context) ([]domain.Study, error) {
	return c.Repo.ListByStatus(ctx, domain.StatusOpen, domain.StatusComplete)
}

// SentStudies returns studies in the submission pipeline, sorted by
// patient ID.
func (c *Cache) SentStudies(ctx context.Context) ([]domain.Study, error) {
	return c.Repo.ListByStatus(ctx,
		domain.StatusQueued, domain.StatusInTransit, domain.StatusSuccess, domain.StatusFailed)
}

// Counts returns the number of studies per status.
func (c *Cache) Counts(ctx context.Context) (map[domain.StudyStatus]int, error) {
	all, err := c.Repo.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.StudyStatus]int)
	for _, s := range all {
		counts[s.Status]++
	}
	return counts, nil
}

// transition applies fn to the study if it is still in the expected
// status under the study lock.
func (c *Cache) transition(ctx context.Context, studyUID string, expect domain.StudyStatus, fn func(*domain.Study)) error {
	mu := c.lock(studyUID)
	mu.Lock()
	defer mu.Unlock()

	study, err := c.Repo.Get(ctx, studyUID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if study.Status != expect {
		return nil
	}
	fn(&study)
	return c.Repo.Put(ctx, study)
}

// studyFiles lists the cached object files of a study directory in
// name order.
func studyFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read study dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
