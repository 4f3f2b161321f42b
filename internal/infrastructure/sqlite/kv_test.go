package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/johnperry/ISN/internal/domain"
)

func TestStore_PutGetRemove(t *testing.T) {
	ctx := context.Background()
	store := NewStore(OpenTestDB(t))

	if _, err := store.Get(ctx, "b", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("get missing: %v", err)
	}

	if err := store.Put(ctx, "b", "k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, "b", "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("value = %q", got)
	}

	// Put replaces.
	if err := store.Put(ctx, "b", "k", []byte("v2")); err != nil {
		t.Fatalf("put replace: %v", err)
	}
	got, _ = store.Get(ctx, "b", "k")
	if string(got) != "v2" {
		t.Errorf("value after replace = %q", got)
	}

	// Buckets are independent.
	if _, err := store.Get(ctx, "other", "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cross-bucket get: %v", err)
	}

	if err := store.Remove(ctx, "b", "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Get(ctx, "b", "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("get after remove: %v", err)
	}
	if err := store.Remove(ctx, "b", "k"); err != nil {
		t.Errorf("remove absent key: %v", err)
	}
}

func TestStore_ForEachOrdersByKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore(OpenTestDB(t))

	for _, k := range []string{"c", "a", "b"} {
		if err := store.Put(ctx, "b", k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	var keys []string
	err := store.ForEach(ctx, "b", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("forEach: %v", err)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Errorf("keys = %v", keys)
	}

	stop := errors.New("stop")
	err = store.ForEach(ctx, "b", func(string, []byte) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("forEach error propagation: %v", err)
	}
}

func TestStore_ClosedRejectsEverything(t *testing.T) {
	ctx := context.Background()
	store := NewStore(OpenTestDB(t))
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	if _, err := store.Get(ctx, "b", "k"); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("get: %v", err)
	}
	if err := store.Put(ctx, "b", "k", nil); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("put: %v", err)
	}
	if err := store.Remove(ctx, "b", "k"); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("remove: %v", err)
	}
	if err := store.ForEach(ctx, "b", nil); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("forEach: %v", err)
	}
}
