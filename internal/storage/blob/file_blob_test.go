package blob

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
)

func newTestFileStore(t *testing.T) *FileBlobStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileBlobStore(common.NewSilentLogger(), FileConfig{BasePath: dir})
	if err != nil {
		t.Fatalf("NewFileBlobStore() error = %v", err)
	}
	return store
}

func TestFileBlobStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	key := "cases/c1/emails/m1/metadata.json"
	data := []byte(`{"subject":"hello"}`)

	if err := store.Put(ctx, key, data, "application/json"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}
}

func TestFileBlobStore_GetNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	_, err := store.Get(ctx, "missing/key")
	if err != ErrBlobNotFound {
		t.Errorf("Get() error = %v, want ErrBlobNotFound", err)
	}
}

func TestFileBlobStore_Exists(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	exists, err := store.Exists(ctx, "cases/c1/emails/m1/metadata.json")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Errorf("Exists() = true before Put")
	}

	if err := store.Put(ctx, "cases/c1/emails/m1/metadata.json", []byte("{}"), "application/json"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	exists, err = store.Exists(ctx, "cases/c1/emails/m1/metadata.json")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Errorf("Exists() = false after Put")
	}
}

func TestFileBlobStore_DeleteIsReplaySafe(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	if err := store.Delete(ctx, "never/existed"); err != nil {
		t.Errorf("Delete() on missing key should be a no-op, got error = %v", err)
	}
}

func TestFileBlobStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)
	key := "cases/c1/emails/m1/content.txt"

	if err := store.Put(ctx, key, []byte("first"), "text/plain"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, key, []byte("second"), "text/plain"); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get() after overwrite = %q, want %q", got, "second")
	}
}

func TestFileBlobStore_List(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	keys := []string{
		"cases/c1/emails/m1/metadata.json",
		"cases/c1/emails/m1/content.html",
		"cases/c1/emails/m2/metadata.json",
	}
	for _, k := range keys {
		if err := store.Put(ctx, k, []byte("x"), "text/plain"); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}

	result, err := store.List(ctx, interfaces.ListOptions{Prefix: "cases/c1/emails/m1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Blobs) != 2 {
		t.Errorf("List() returned %d blobs, want 2", len(result.Blobs))
	}
}

func TestFileBlobStore_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileBlobStore(common.NewSilentLogger(), FileConfig{BasePath: dir})
	if err != nil {
		t.Fatalf("NewFileBlobStore() error = %v", err)
	}

	if err := store.Put(ctx, "../../etc/passwd", []byte("x"), "text/plain"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// The sanitized path must stay within basePath, never escape upward.
	path := store.keyToPath("../../etc/passwd")
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || filepath.IsAbs(rel) {
		t.Errorf("keyToPath() escaped base directory: %s", path)
	}
}
