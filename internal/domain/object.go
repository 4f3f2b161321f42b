package domain

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Cached objects use a normalized envelope so that identity and
// descriptive metadata can be read without loading the payload:
//
//	bytes 0..3   magic "ISN1"
//	bytes 4..7   header length, big endian
//	header       JSON-encoded ObjectHeader
//	payload      opaque object bytes
//
// The payload is typically a DICOM part-10 object; this package never
// interprets it.

const objectMagic = "ISN1"

// maxHeaderLen bounds the header read so a corrupt length field cannot
// force a huge allocation.
const maxHeaderLen = 1 << 20

// ObjectHeader carries the identity and descriptive metadata of one
// cached object.
type ObjectHeader struct {
	PatientID        string `json:"patientID,omitempty"`
	PatientName      string `json:"patientName,omitempty"`
	PatientSex       string `json:"patientSex,omitempty"`
	PatientBirthDate string `json:"patientBirthDate,omitempty"`

	StudyUID         string `json:"studyUID"`
	SeriesUID        string `json:"seriesUID"`
	ObjectUID        string `json:"objectUID"`
	ClassUID         string `json:"classUID,omitempty"`
	TransferSyntax   string `json:"transferSyntax,omitempty"`
	ContentType      string `json:"contentType,omitempty"`
	Modality         string `json:"modality,omitempty"`
	BodyPart         string `json:"bodyPart,omitempty"`
	StudyDate        string `json:"studyDate,omitempty"`
	StudyDescription string `json:"studyDescription,omitempty"`
	SeriesDesc       string `json:"seriesDescription,omitempty"`
	AccessionNumber  string `json:"accessionNumber,omitempty"`
}

// Validate checks the fields every cached object must carry.
func (h ObjectHeader) Validate() error {
	if h.StudyUID == "" {
		return fmt.Errorf("%w: object header missing studyUID", ErrInvalidArgument)
	}
	if h.SeriesUID == "" {
		return fmt.Errorf("%w: object header missing seriesUID", ErrInvalidArgument)
	}
	if h.ObjectUID == "" {
		return fmt.Errorf("%w: object header missing objectUID", ErrInvalidArgument)
	}
	return nil
}

// WriteObject writes an envelope with the given header and payload.
func WriteObject(w io.Writer, hdr ObjectHeader, payload io.Reader) error {
	if err := hdr.Validate(); err != nil {
		return err
	}
	hb, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("encode object header: %w", err)
	}
	if _, err := io.WriteString(w, objectMagic); err != nil {
		return fmt.Errorf("write object magic: %w", err)
	}
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(hb)))
	if _, err := w.Write(lb[:]); err != nil {
		return fmt.Errorf("write header length: %w", err)
	}
	if _, err := w.Write(hb); err != nil {
		return fmt.Errorf("write object header: %w", err)
	}
	if payload != nil {
		if _, err := io.Copy(w, payload); err != nil {
			return fmt.Errorf("write object payload: %w", err)
		}
	}
	return nil
}

// WriteObjectFile writes an envelope file at path.
func WriteObjectFile(path string, hdr ObjectHeader, payload io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create object file: %w", err)
	}
	if err := WriteObject(f, hdr, payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close object file: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) (ObjectHeader, error) {
	var hdr ObjectHeader
	var pre [8]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return hdr, fmt.Errorf("read envelope preamble: %w", err)
	}
	if string(pre[0:4]) != objectMagic {
		return hdr, fmt.Errorf("%w: not an object envelope", ErrInvalidArgument)
	}
	n := binary.BigEndian.Uint32(pre[4:8])
	if n == 0 || n > maxHeaderLen {
		return hdr, fmt.Errorf("%w: implausible header length %d", ErrInvalidArgument, n)
	}
	hb := make([]byte, n)
	if _, err := io.ReadFull(r, hb); err != nil {
		return hdr, fmt.Errorf("read object header: %w", err)
	}
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return hdr, fmt.Errorf("decode object header: %w", err)
	}
	return hdr, hdr.Validate()
}

// DecodeObjectHeader reads an envelope header from r, leaving the
// reader positioned at the first payload byte.
func DecodeObjectHeader(r io.Reader) (ObjectHeader, error) {
	return readHeader(r)
}

// ReadObjectHeader reads only the envelope header of the file at path.
// The payload is never loaded.
func ReadObjectHeader(path string) (ObjectHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return ObjectHeader{}, fmt.Errorf("open object file: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReaderSize(f, 4096))
}

// OpenObjectPayload opens the file at path positioned at the first
// payload byte and returns the payload size. The caller owns the
// returned ReadCloser. Used to stream object bytes lazily at
// transmission time.
func OpenObjectPayload(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open object file: %w", err)
	}
	var pre [8]byte
	if _, err := io.ReadFull(f, pre[:]); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("read envelope preamble: %w", err)
	}
	if string(pre[0:4]) != objectMagic {
		f.Close()
		return nil, 0, fmt.Errorf("%w: not an object envelope", ErrInvalidArgument)
	}
	n := int64(binary.BigEndian.Uint32(pre[4:8]))
	if n == 0 || n > maxHeaderLen {
		f.Close()
		return nil, 0, fmt.Errorf("%w: implausible header length %d", ErrInvalidArgument, n)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat object file: %w", err)
	}
	if _, err := f.Seek(8+n, io.SeekStart); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("seek past header: %w", err)
	}
	return f, fi.Size() - 8 - n, nil
}
