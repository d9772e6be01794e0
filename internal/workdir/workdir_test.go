package workdir

import (
	"bytes"
	"testing"
	"time"
)

func TestUploadDownloadRoundTrip(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	want := []byte("Hello World!")
	if _, err := m.Upload("t.txt", want, 2*time.Second); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := m.ReadAll("t.txt", 2*time.Second)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	_, err = m.ReadAll("missing.txt", time.Second)
	if err != ErrFileNotFound {
		t.Fatalf("got %v, want ErrFileNotFound", err)
	}
}

func TestListIncludesUploadedFile(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	if _, err := m.Upload("sub/t.txt", []byte("x"), time.Second); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	files, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, f := range files {
		if f.Path == "sub/t.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sub/t.txt in listing, got %+v", files)
	}
}

func TestUploadRejectsPathEscape(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	if _, err := m.Upload("../escape.txt", []byte("x"), time.Second); err != ErrPathEscape {
		t.Fatalf("got %v, want ErrPathEscape", err)
	}
}
