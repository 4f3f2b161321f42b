package domain

import (
	"strings"
	"time"
)

// StudyStatus indicates where a cached study is in its lifecycle.
type StudyStatus string

const (
	// StatusOpen: the study received an object recently enough that it
	// cannot yet be considered complete.
	StatusOpen StudyStatus = "OPEN"

	// StatusComplete: no object has arrived within the minimum-age
	// window; the study is eligible for submission.
	StatusComplete StudyStatus = "COMPLETE"

	// StatusQueued: a destination has been assigned and the submission
	// job has been handed to the worker pool.
	StatusQueued StudyStatus = "QUEUED"

	// StatusInTransit: a worker is actively submitting the study.
	StatusInTransit StudyStatus = "INTRANSIT"

	// StatusSuccess: the study was accepted by the clearinghouse.
	StatusSuccess StudyStatus = "SUCCESS"

	// StatusFailed: the submission attempt failed; the study may be
	// re-queued.
	StatusFailed StudyStatus = "FAILED"
)

// ParseStudyStatus maps a stored string to a StudyStatus. Unknown values
// return false.
func ParseStudyStatus(s string) (StudyStatus, bool) {
	switch st := StudyStatus(strings.ToUpper(s)); st {
	case StatusOpen, StatusComplete, StatusQueued, StatusInTransit, StatusSuccess, StatusFailed:
		return st, true
	}
	return "", false
}

// Active reports whether the study is still accumulating objects
// (OPEN or COMPLETE).
func (s StudyStatus) Active() bool {
	return s == StatusOpen || s == StatusComplete
}

// Sent reports whether the study has entered the submission pipeline.
func (s StudyStatus) Sent() bool {
	switch s {
	case StatusQueued, StatusInTransit, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Sendable reports whether a study in this status may be (re-)queued for
// submission. COMPLETE is the normal entry; FAILED allows a manual
// re-queue by the same mechanism.
func (s StudyStatus) Sendable() bool {
	return s == StatusComplete || s == StatusFailed
}

// Study is the record kept for one aggregated study in the cache.
// StudyUID is the immutable identity; everything else is mutated as
// objects arrive and as the submission pipeline advances.
type Study struct {
	StudyUID string `json:"studyUID"`

	// Dir is the directory holding the study's cached objects.
	Dir string `json:"dir"`

	ObjectCount      int `json:"objectCount"`
	ObjectsSubmitted int `json:"objectsSubmitted"`

	LastModified time.Time   `json:"lastModified"`
	Status       StudyStatus `json:"status"`

	// Destination is the clearinghouse key the study will be submitted
	// under; empty until a user or the autosend sweep assigns one.
	Destination     string `json:"destination,omitempty"`
	DestinationName string `json:"destinationName,omitempty"`

	// Descriptive metadata, populated opportunistically for display.
	// Never required for correctness.
	PatientID        string `json:"patientID,omitempty"`
	PatientName      string `json:"patientName,omitempty"`
	StudyDate        string `json:"studyDate,omitempty"`
	AccessionNumber  string `json:"accessionNumber,omitempty"`
	Modality         string `json:"modality,omitempty"`
	BodyPart         string `json:"bodyPart,omitempty"`
	StudyDescription string `json:"studyDescription,omitempty"`

	// Message carries the error text of the last failed submission.
	Message string `json:"message,omitempty"`
}

// NewStudy creates an OPEN study record indexed from the first object
// seen for the study.
func NewStudy(hdr ObjectHeader, dir string) Study {
	s := Study{
		StudyUID:    hdr.StudyUID,
		Dir:         dir,
		Status:      StatusOpen,
		PatientID:   hdr.PatientID,
		PatientName: hdr.PatientName,
		StudyDate:   FormatStudyDate(hdr.StudyDate),
	}
	s.MergeMetadata(hdr)
	return s
}

// MergeMetadata fills descriptive fields from an object header. First
// non-empty value wins; later objects never overwrite.
func (s *Study) MergeMetadata(hdr ObjectHeader) {
	merge := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	merge(&s.PatientID, hdr.PatientID)
	merge(&s.PatientName, hdr.PatientName)
	merge(&s.StudyDate, FormatStudyDate(hdr.StudyDate))
	merge(&s.AccessionNumber, hdr.AccessionNumber)
	merge(&s.Modality, hdr.Modality)
	merge(&s.BodyPart, hdr.BodyPart)
	merge(&s.StudyDescription, hdr.StudyDescription)
}

// Description returns display text for the study, falling back to
// modality and body part when no description was captured.
func (s *Study) Description() string {
	if s.StudyDescription != "" {
		return s.StudyDescription
	}
	d := s.Modality
	if d != "" && s.BodyPart != "" {
		d += ": " + s.BodyPart
	}
	if d == "" {
		d = "unavailable"
	}
	return d
}

// SafeDirName sanitizes an identifier for use as a directory name:
// path separators and whitespace become underscores.
func SafeDirName(name string) string {
	out := []rune(name)
	for i, r := range out {
		switch {
		case r == '/' || r == '\\':
			out[i] = '_'
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out[i] = '_'
		}
	}
	return string(out)
}

// FormatStudyDate converts a compact YYYYMMDD date to YYYY.MM.DD for
// display. Other shapes pass through unchanged.
func FormatStudyDate(date string) string {
	if len(date) != 8 {
		return date
	}
	for _, r := range date {
		if r < '0' || r > '9' {
			return date
		}
	}
	return date[0:4] + "." + date[4:6] + "." + date[6:8]
}
