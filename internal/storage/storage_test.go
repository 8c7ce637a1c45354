package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/wessley-search/splitcore/internal/model"
)

func TestSplitScheme(t *testing.T) {
	cases := []struct {
		uri, scheme, rest string
	}{
		{"file:///data/idx", "file", "/data/idx"},
		{"ram:///", "ram", ""},
		{"s3://bucket/prefix", "s3", "bucket/prefix"},
		{"/plain/path", "", "/plain/path"},
	}
	for _, c := range cases {
		scheme, rest := splitScheme(c.uri)
		if scheme != c.scheme || rest != c.rest {
			t.Errorf("splitScheme(%q) = (%q, %q), want (%q, %q)", c.uri, scheme, rest, c.scheme, c.rest)
		}
	}
}

func testBackend(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if err := s.Put(ctx, "a/b.txt", Payload{Reader: strings.NewReader("hello world"), Size: 11}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	all, err := s.GetAll(ctx, "a/b.txt")
	if err != nil || string(all) != "hello world" {
		t.Fatalf("GetAll = %q, %v", all, err)
	}
	slice, err := s.GetSlice(ctx, "a/b.txt", model.ByteRange{Start: 6, End: 11})
	if err != nil || string(slice) != "world" {
		t.Fatalf("GetSlice = %q, %v", slice, err)
	}
	n, err := s.FileNumBytes(ctx, "a/b.txt")
	if err != nil || n != 11 {
		t.Fatalf("FileNumBytes = %d, %v", n, err)
	}
	dest := t.TempDir() + "/copy.txt"
	if err := s.CopyToFile(ctx, "a/b.txt", dest); err != nil {
		t.Fatalf("CopyToFile: %v", err)
	}
	if err := s.Delete(ctx, "a/b.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetAll(ctx, "a/b.txt"); err == nil {
		t.Fatal("expected error reading deleted object")
	}
}

func TestFileStorage(t *testing.T) {
	testBackend(t, NewFileStorage(t.TempDir()))
}

func TestRAMStorage(t *testing.T) {
	testBackend(t, NewRAMStorage())
}

func TestRAMStorageGetSliceOutOfRange(t *testing.T) {
	ctx := context.Background()
	s := NewRAMStorage()
	if err := s.Put(ctx, "x", Payload{Reader: strings.NewReader("abc"), Size: 3}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSlice(ctx, "x", model.ByteRange{Start: 0, End: 10}); err == nil {
		t.Fatal("expected out-of-range error")
	}
}
