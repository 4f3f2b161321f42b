package domain

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ManifestContentType identifies a manifest document on the wire.
const ManifestContentType = "application/x-isn-manifest+json"

// ObjectRef points at one image object listed in a manifest.
type ObjectRef struct {
	ObjectUID      string `json:"objectUID"`
	ClassUID       string `json:"classUID,omitempty"`
	TransferSyntax string `json:"transferSyntax,omitempty"`
	ContentType    string `json:"contentType,omitempty"`

	// Path locates the cached envelope file on local disk. It is kept
	// through activity serialization but stripped from the wire form.
	Path string `json:"path,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// ManifestSeries groups the object references of one series.
type ManifestSeries struct {
	SeriesUID   string      `json:"seriesUID"`
	Modality    string      `json:"modality,omitempty"`
	Description string      `json:"description,omitempty"`
	Objects     []ObjectRef `json:"objects"`
}

// ManifestDocument is the index document generated for one study before
// submission: patient demographics plus the ordered series and object
// references. Built once per attempt and regenerated on retry; never
// persisted.
type ManifestDocument struct {
	ManifestUID string `json:"manifestUID"`

	PatientID        string `json:"patientID,omitempty"`
	PatientName      string `json:"patientName,omitempty"`
	PatientSex       string `json:"patientSex,omitempty"`
	PatientBirthDate string `json:"patientBirthDate,omitempty"`

	StudyUID         string `json:"studyUID"`
	StudyDate        string `json:"studyDate,omitempty"`
	StudyDescription string `json:"studyDescription,omitempty"`
	AccessionNumber  string `json:"accessionNumber,omitempty"`

	Series []ManifestSeries `json:"series"`
}

// ObjectTotal returns the number of object references across all series.
func (m *ManifestDocument) ObjectTotal() int {
	n := 0
	for _, s := range m.Series {
		n += len(s.Objects)
	}
	return n
}

// Objects returns the object references flattened in series order.
func (m *ManifestDocument) Objects() []ObjectRef {
	out := make([]ObjectRef, 0, m.ObjectTotal())
	for _, s := range m.Series {
		out = append(out, s.Objects...)
	}
	return out
}

// TransferSyntax returns the transfer syntax of the first object, the
// value advertised for the whole study when requesting images back.
func (m *ManifestDocument) TransferSyntax() string {
	for _, s := range m.Series {
		for _, o := range s.Objects {
			if o.TransferSyntax != "" {
				return o.TransferSyntax
			}
		}
	}
	return ""
}

// WireJSON serializes the manifest for transmission, with local file
// paths stripped from every object reference.
func (m *ManifestDocument) WireJSON() ([]byte, error) {
	w := *m
	w.Series = make([]ManifestSeries, len(m.Series))
	for i, s := range m.Series {
		ws := s
		ws.Objects = make([]ObjectRef, len(s.Objects))
		for j, o := range s.Objects {
			o.Path = ""
			ws.Objects[j] = o
		}
		w.Series[i] = ws
	}
	b, err := json.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return b, nil
}

// ParseManifest decodes manifest content. Content that does not carry a
// study UID and at least one series is not a manifest; callers treat
// such documents as unstructured reports.
func ParseManifest(data []byte) (ManifestDocument, error) {
	var m ManifestDocument
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	if m.StudyUID == "" || len(m.Series) == 0 {
		return m, fmt.Errorf("%w: content is not a manifest", ErrInvalidArgument)
	}
	return m, nil
}

// BuildManifests parses the envelope headers of the given files (headers
// only; payloads are not read) and groups them into one manifest per
// study. Descriptive fields are taken from the first object encountered
// for each study and series. A progress event is emitted per file.
func BuildManifests(files []string, progress ProgressFunc) ([]ManifestDocument, error) {
	byStudy := make(map[string]*ManifestDocument)
	var order []string

	for i, path := range files {
		hdr, err := ReadObjectHeader(path)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", path, err)
		}
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		m := byStudy[hdr.StudyUID]
		if m == nil {
			m = &ManifestDocument{
				ManifestUID:      uuid.NewString(),
				PatientID:        hdr.PatientID,
				PatientName:      hdr.PatientName,
				PatientSex:       hdr.PatientSex,
				PatientBirthDate: hdr.PatientBirthDate,
				StudyUID:         hdr.StudyUID,
				StudyDate:        hdr.StudyDate,
				StudyDescription: hdr.StudyDescription,
				AccessionNumber:  hdr.AccessionNumber,
			}
			byStudy[hdr.StudyUID] = m
			order = append(order, hdr.StudyUID)
		}

		var series *ManifestSeries
		for j := range m.Series {
			if m.Series[j].SeriesUID == hdr.SeriesUID {
				series = &m.Series[j]
				break
			}
		}
		if series == nil {
			m.Series = append(m.Series, ManifestSeries{
				SeriesUID:   hdr.SeriesUID,
				Modality:    hdr.Modality,
				Description: hdr.SeriesDesc,
			})
			series = &m.Series[len(m.Series)-1]
		}

		series.Objects = append(series.Objects, ObjectRef{
			ObjectUID:      hdr.ObjectUID,
			ClassUID:       hdr.ClassUID,
			TransferSyntax: hdr.TransferSyntax,
			ContentType:    hdr.ContentType,
			Path:           path,
			Size:           fi.Size(),
		})

		if progress != nil {
			progress(IndexedEvent{File: path, Index: i + 1, Total: len(files)})
		}
	}

	out := make([]ManifestDocument, 0, len(order))
	for _, uid := range order {
		out = append(out, *byStudy[uid])
	}
	return out, nil
}
