package results

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestFilesystemStore(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore() error: %v", err)
	}
	ctx := context.Background()

	key := "jobs/12/run-3.json"
	doc := `{"files":10}`

	exists, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if exists {
		t.Error("document should not exist yet")
	}

	if err := store.Put(ctx, key, strings.NewReader(doc)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	exists, _ = store.Exists(ctx, key)
	if !exists {
		t.Error("document should exist after Put")
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != doc {
		t.Errorf("content = %q, want %q", data, doc)
	}

	// Overwrite
	if err := store.Put(ctx, key, strings.NewReader(`{"files":20}`)); err != nil {
		t.Fatalf("Put() overwrite error: %v", err)
	}
	reader, _ = store.Get(ctx, key)
	data, _ = io.ReadAll(reader)
	reader.Close()
	if string(data) != `{"files":20}` {
		t.Errorf("overwrite content = %q", data)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	exists, _ = store.Exists(ctx, key)
	if exists {
		t.Error("document should be gone after Delete")
	}

	// Deleting a missing key is fine
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("Delete() of missing key error: %v", err)
	}
}

func TestFilesystemStore_RejectsBadKeys(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore() error: %v", err)
	}
	ctx := context.Background()

	bad := []string{"", "/absolute/path", "../escape", "jobs/../../etc/passwd"}
	for _, key := range bad {
		if err := store.Put(ctx, key, strings.NewReader("x")); err == nil {
			t.Errorf("Put(%q) should be rejected", key)
		}
		if _, err := store.Get(ctx, key); err == nil {
			t.Errorf("Get(%q) should be rejected", key)
		}
	}
}
