package domain

import "context"

// StudyRepository persists study records. Implementations return
// ErrNotFound for unknown study UIDs and ErrClosed after Close.
type StudyRepository interface {
	// Get returns the study with the given UID.
	Get(ctx context.Context, studyUID string) (Study, error)

	// Put inserts or replaces a study record.
	Put(ctx context.Context, study Study) error

	// Remove deletes a study record. Removing an unknown UID is not an
	// error.
	Remove(ctx context.Context, studyUID string) error

	// List returns every study, ordered by patient ID then study UID.
	List(ctx context.Context) ([]Study, error)

	// ListByStatus returns studies in any of the given statuses,
	// ordered by patient ID then study UID.
	ListByStatus(ctx context.Context, statuses ...StudyStatus) ([]Study, error)

	Close() error
}

// SeenSet is a durable idempotence filter of previously processed
// submission-set IDs.
type SeenSet interface {
	// Seen reports whether id was already recorded. A set in
	// always-accept mode reports false for every id.
	Seen(ctx context.Context, id string) (bool, error)

	// Record marks id as processed.
	Record(ctx context.Context, id string) error

	Close() error
}
