package domain_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johnperry/ISN/internal/domain"
)

func writeTestObject(t *testing.T, dir string, hdr domain.ObjectHeader) string {
	t.Helper()
	path := filepath.Join(dir, domain.SafeDirName(hdr.ObjectUID))
	if err := domain.WriteObjectFile(path, hdr, strings.NewReader("payload")); err != nil {
		t.Fatalf("WriteObjectFile: %v", err)
	}
	return path
}

func TestBuildManifests_GroupsByStudyAndSeries(t *testing.T) {
	dir := t.TempDir()
	mk := func(study, series, object, modality string) string {
		return writeTestObject(t, dir, domain.ObjectHeader{
			PatientID:      "PID-1",
			StudyUID:       study,
			SeriesUID:      series,
			ObjectUID:      object,
			Modality:       modality,
			TransferSyntax: "1.2.840.10008.1.2.1",
		})
	}

	files := []string{
		mk("S1", "S1.A", "S1.A.1", "CT"),
		mk("S1", "S1.A", "S1.A.2", "CT"),
		mk("S1", "S1.B", "S1.B.1", "SR"),
		mk("S2", "S2.A", "S2.A.1", "MR"),
	}

	var events []domain.IndexedEvent
	manifests, err := domain.BuildManifests(files, func(ev domain.SubmissionEvent) {
		if e, ok := ev.(domain.IndexedEvent); ok {
			events = append(events, e)
		}
	})
	if err != nil {
		t.Fatalf("BuildManifests: %v", err)
	}

	if len(manifests) != 2 {
		t.Fatalf("got %d manifests, want 2", len(manifests))
	}
	m1 := manifests[0]
	if m1.StudyUID != "S1" || len(m1.Series) != 2 {
		t.Fatalf("first manifest: study %q, %d series", m1.StudyUID, len(m1.Series))
	}
	if m1.ObjectTotal() != 3 {
		t.Errorf("S1 object total = %d, want 3", m1.ObjectTotal())
	}
	if m1.ManifestUID == "" {
		t.Error("manifest UID not assigned")
	}
	if m1.PatientID != "PID-1" {
		t.Errorf("patient ID = %q", m1.PatientID)
	}
	if m1.TransferSyntax() != "1.2.840.10008.1.2.1" {
		t.Errorf("transfer syntax = %q", m1.TransferSyntax())
	}
	for _, o := range m1.Objects() {
		if o.Path == "" {
			t.Errorf("object %s missing local path", o.ObjectUID)
		}
		if o.Size <= 0 {
			t.Errorf("object %s size = %d", o.ObjectUID, o.Size)
		}
	}

	if len(events) != len(files) {
		t.Fatalf("got %d progress events, want %d", len(events), len(files))
	}
	for i, ev := range events {
		if ev.Index != i+1 || ev.Total != len(files) {
			t.Errorf("event %d: index %d of %d", i, ev.Index, ev.Total)
		}
	}
}

func TestBuildManifests_UnreadableFileFails(t *testing.T) {
	dir := t.TempDir()
	good := writeTestObject(t, dir, domain.ObjectHeader{
		StudyUID: "S1", SeriesUID: "S1.A", ObjectUID: "S1.A.1",
	})
	_, err := domain.BuildManifests([]string{good, filepath.Join(dir, "missing")}, nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWireJSON_StripsLocalPaths(t *testing.T) {
	m := domain.ManifestDocument{
		ManifestUID: "m1",
		StudyUID:    "S1",
		Series: []domain.ManifestSeries{{
			SeriesUID: "S1.A",
			Objects: []domain.ObjectRef{{
				ObjectUID: "S1.A.1",
				Path:      "/var/cache/S1/obj1",
				Size:      42,
			}},
		}},
	}
	b, err := m.WireJSON()
	if err != nil {
		t.Fatalf("WireJSON: %v", err)
	}
	if strings.Contains(string(b), "/var/cache") {
		t.Errorf("wire form leaks local path: %s", b)
	}
	if m.Series[0].Objects[0].Path == "" {
		t.Error("WireJSON mutated the source manifest")
	}

	parsed, err := domain.ParseManifest(b)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if parsed.StudyUID != "S1" || parsed.ObjectTotal() != 1 {
		t.Errorf("parsed manifest: %+v", parsed)
	}
}

func TestParseManifest_RejectsReports(t *testing.T) {
	_, err := domain.ParseManifest([]byte(`{"impression": "normal chest"}`))
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
	_, err = domain.ParseManifest([]byte(`not json at all`))
	if err == nil {
		t.Error("expected error for non-JSON content")
	}
}
