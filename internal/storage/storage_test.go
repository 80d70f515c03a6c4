package storage

import (
	"context"
	"testing"
)

type testObj struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (o *testObj) Kind() string      { return "testobj" }
func (o *testObj) StorageID() string { return o.ID }

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	obj := &testObj{ID: "a", Name: "first"}
	if err := s.Save(ctx, obj); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := &testObj{ID: "a"}
	if err := s.Get(ctx, got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "first" {
		t.Fatalf("got name %q, want %q", got.Name, "first")
	}

	obj.Name = "second"
	if err := s.Save(ctx, obj); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if err := s.Get(ctx, got); err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Name != "second" {
		t.Fatalf("save did not overwrite, got %q", got.Name)
	}

	if err := s.Delete(ctx, obj); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Get(ctx, &testObj{ID: "a"}); err != ErrNotFound {
		t.Fatalf("get after delete: got %v, want ErrNotFound", err)
	}
}

func TestMemoryListFiltersByKind(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_ = s.Save(ctx, &testObj{ID: "a"})
	_ = s.Save(ctx, &testObj{ID: "b"})

	raws, err := s.List(ctx, "testobj")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("got %d objects, want 2", len(raws))
	}
	raws, err = s.List(ctx, "other")
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(raws) != 0 {
		t.Fatalf("list leaked objects across kinds")
	}
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_ = s.Save(ctx, &testObj{ID: "a"})
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.Get(ctx, &testObj{ID: "a"}); err != ErrNotFound {
		t.Fatalf("object survived clear")
	}
}

func TestBlobStores(t *testing.T) {
	ctx := context.Background()
	stores := map[string]BlobStore{
		"memory": NewMemoryBlobStore(),
		"file":   NewFileBlobStore(t.TempDir()),
	}
	for name, bs := range stores {
		t.Run(name, func(t *testing.T) {
			if err := bs.Put(ctx, "blob-1", []byte("payload")); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := bs.Get(ctx, "blob-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got) != "payload" {
				t.Fatalf("got %q", got)
			}
			if err := bs.Delete(ctx, "blob-1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := bs.Get(ctx, "blob-1"); err != ErrNotFound {
				t.Fatalf("get after delete: got %v, want ErrNotFound", err)
			}
			if err := bs.Delete(ctx, "blob-1"); err != nil {
				t.Fatalf("second delete not idempotent: %v", err)
			}
		})
	}
}
