package checkpoint

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestMemoryStoreSaveLoadDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte(`{"id":"s1"}`)
	if err := store.Save(ctx, "s1", data); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data[0] = 'X'

	got, err := store.Load(ctx, " s1 ")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got) != `{"id":"s1"}` {
		t.Fatalf("Load() = %s, want the bytes as saved", got)
	}
	got[0] = 'Y'
	if again, _ := store.Load(ctx, "s1"); again[0] != '{' {
		t.Fatalf("Load() returned shared buffer")
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(deleted) error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete(missing) error = %v", err)
	}
}

func TestMemoryStoreOverwriteAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	for _, id := range []string{"b", "a", "b"} {
		if err := store.Save(ctx, id, []byte(id)); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if want := []string{"a", "b"}; !slices.Equal(ids, want) {
		t.Fatalf("List() = %v, want %v", ids, want)
	}
}

func TestMemoryStoreValidatesInput(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if err := store.Save(context.Background(), " ", nil); !errors.Is(err, ErrIDRequired) {
		t.Fatalf("Save(blank) error = %v, want ErrIDRequired", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Load(canceled) error = %v, want context.Canceled", err)
	}
}
