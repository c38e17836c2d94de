package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestLocalStorage_PutGet(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	key := "test/object.txt"
	content := []byte("hello world")
	if err := storage.Put(ctx, key, content); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := storage.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	got, err := storage.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	if err := storage.Put(ctx, key, []byte("replaced")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	got, _ = storage.Get(ctx, key)
	if string(got) != "replaced" {
		t.Errorf("got %q, want %q", got, "replaced")
	}

	if err := storage.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = storage.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected object to not exist after delete")
	}
}

func TestLocalStorage_GetMissing(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	_, err = storage.Get(context.Background(), "missing")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_DeleteIdempotent(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	if err := storage.Delete(context.Background(), "never/existed"); err != nil {
		t.Errorf("expected no error deleting missing object, got %v", err)
	}
}

func TestLocalStorage_KeysStayInsideBase(t *testing.T) {
	base := t.TempDir()
	storage, err := NewLocalStorage(base)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	if err := storage.Put(ctx, "../../escape.txt", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	objects, err := storage.ListObjects(ctx, "")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if want := []string{"escape.txt"}; !reflect.DeepEqual(objects, want) {
		t.Errorf("got %v, want %v", objects, want)
	}
	if err := storage.Put(ctx, "/", []byte("x")); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	for _, k := range []string{"a/1", "a/2", "b/1"} {
		if err := storage.Put(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	got, err := storage.ListObjects(ctx, "a/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if want := []string{"a/1", "a/2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = storage.ListObjects(ctx, "none/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := storage.Put(ctx, "k", []byte("v")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
