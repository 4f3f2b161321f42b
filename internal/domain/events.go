package domain

import "fmt"

// SubmissionEvent is a progress notification emitted while a study is
// being prepared or transmitted.
type SubmissionEvent interface {
	fmt.Stringer
}

// ProgressFunc receives submission progress events. Implementations
// must be safe for concurrent use; events for different studies may
// arrive interleaved.
type ProgressFunc func(ev SubmissionEvent)

// IndexedEvent reports that file Index of Total has been indexed into
// a manifest.
type IndexedEvent struct {
	File  string
	Index int
	Total int
}

func (e IndexedEvent) String() string {
	return fmt.Sprintf("Building manifest. Indexed object %d of %d.", e.Index, e.Total)
}

// ObjectSentEvent reports that object Index of Total was transmitted
// for the given study.
type ObjectSentEvent struct {
	StudyUID string
	File     string
	Index    int
	Total    int
}

func (e ObjectSentEvent) String() string {
	return fmt.Sprintf("Submitting documents. Sent object %d of %d.", e.Index, e.Total)
}
