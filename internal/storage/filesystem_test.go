package storage

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	key, err := s.Write(ctx, "jobs/abc.json", []byte(`{"ok":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if key != "jobs/abc.json" {
		t.Fatalf("key = %q", key)
	}

	data, err := s.Read(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("data = %s", data)
	}
}

func TestReadMissingReturnsNotExist(t *testing.T) {
	s, _ := NewFileStore(t.TempDir(), "")
	if _, err := s.Read(context.Background(), "jobs/missing.json"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestAppendAccumulates(t *testing.T) {
	s, _ := NewFileStore(t.TempDir(), "")
	ctx := context.Background()

	if err := s.Append(ctx, "costlog/2026-03-01.jsonl", []byte("a\n")); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, "costlog/2026-03-01.jsonl", []byte("b\n")); err != nil {
		t.Fatal(err)
	}
	data, err := s.Read(ctx, "costlog/2026-03-01.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a\nb\n" {
		t.Fatalf("data = %q", data)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	tests := []string{"", "../secrets", "/../../etc/passwd", "."}
	s, _ := NewFileStore(t.TempDir(), "")
	for _, key := range tests {
		if _, err := s.Write(context.Background(), key, nil); err == nil {
			t.Fatalf("key %q should be rejected", key)
		}
	}
}

func TestURLDerivation(t *testing.T) {
	s, _ := NewFileStore(t.TempDir(), "http://localhost:8080/static/")
	url, err := s.URL("/generated/b1/a-v1.png")
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://localhost:8080/static/generated/b1/a-v1.png" {
		t.Fatalf("url = %q", url)
	}
}
