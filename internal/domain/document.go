package domain

import (
	"encoding/json"
	"fmt"
	"os"
)

// DocumentInfo summarizes one retrieved manifest: the study it
// describes and the object UIDs to request back, grouped by series.
type DocumentInfo struct {
	StudyUID       string
	DocumentUID    string
	PatientName    string
	TransferSyntax string

	// SeriesUIDs preserves the manifest's series order.
	SeriesUIDs []string
	// Objects maps seriesUID to the object UIDs of that series.
	Objects map[string][]string
}

// Info derives the retrieval view of a manifest that was downloaded
// under the given document UID.
func (m *ManifestDocument) Info(documentUID string) DocumentInfo {
	info := DocumentInfo{
		StudyUID:       m.StudyUID,
		DocumentUID:    documentUID,
		PatientName:    m.PatientName,
		TransferSyntax: m.TransferSyntax(),
		Objects:        make(map[string][]string, len(m.Series)),
	}
	for _, s := range m.Series {
		uids := make([]string, 0, len(s.Objects))
		for _, o := range s.Objects {
			uids = append(uids, o.ObjectUID)
		}
		info.SeriesUIDs = append(info.SeriesUIDs, s.SeriesUID)
		info.Objects[s.SeriesUID] = uids
	}
	return info
}

// ReportEnvelope wraps an unstructured report in a minimal structured
// form carrying the study it belongs to. Reports arrive without any
// parseable association; the association is discovered from the
// manifest in the same submission set.
type ReportEnvelope struct {
	UID      string `json:"uid"`
	StudyUID string `json:"studyUID"`
	Text     string `json:"text"`
}

// WrapReportFile rewrites the file at path in place as a ReportEnvelope
// associating its raw content with studyUID.
func WrapReportFile(path, uid, studyUID string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read report %s: %w", path, err)
	}
	env := ReportEnvelope{UID: uid, StudyUID: studyUID, Text: string(text)}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report envelope: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("rewrite report %s: %w", path, err)
	}
	return nil
}
