package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/johnperry/ISN/internal/domain"
)

const studyBucket = "studies"

// StudyRepo implements [domain.StudyRepository] over the bucketed
// store. Records are stored as JSON keyed by study UID.
type StudyRepo struct {
	Store *Store
}

func (r *StudyRepo) Get(ctx context.Context, studyUID string) (domain.Study, error) {
	b, err := r.Store.Get(ctx, studyBucket, studyUID)
	if err != nil {
		return domain.Study{}, err
	}
	var s domain.Study
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.Study{}, fmt.Errorf("decode study %s: %w", studyUID, err)
	}
	return s, nil
}

func (r *StudyRepo) Put(ctx context.Context, study domain.Study) error {
	if study.StudyUID == "" {
		return fmt.Errorf("%w: study with empty UID", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(study)
	if err != nil {
		return fmt.Errorf("encode study %s: %w", study.StudyUID, err)
	}
	return r.Store.Put(ctx, studyBucket, study.StudyUID, b)
}

func (r *StudyRepo) Remove(ctx context.Context, studyUID string) error {
	return r.Store.Remove(ctx, studyBucket, studyUID)
}

func (r *StudyRepo) List(ctx context.Context) ([]domain.Study, error) {
	return r.list(ctx, nil)
}

func (r *StudyRepo) ListByStatus(ctx context.Context, statuses ...domain.StudyStatus) ([]domain.Study, error) {
	want := make(map[domain.StudyStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return r.list(ctx, func(s domain.Study) bool { return want[s.Status] })
}

func (r *StudyRepo) list(ctx context.Context, keep func(domain.Study) bool) ([]domain.Study, error) {
	var out []domain.Study
	err := r.Store.ForEach(ctx, studyBucket, func(key string, value []byte) error {
		var s domain.Study
		if err := json.Unmarshal(value, &s); err != nil {
			return fmt.Errorf("decode study %s: %w", key, err)
		}
		if keep == nil || keep(s) {
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatientID != out[j].PatientID {
			return out[i].PatientID < out[j].PatientID
		}
		return out[i].StudyUID < out[j].StudyUID
	})
	return out, nil
}

func (r *StudyRepo) Close() error {
	return r.Store.Close()
}
