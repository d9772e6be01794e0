package session

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/kernel"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH")
	}
}

func TestLocalSingletonGuard(t *testing.T) {
	requirePython(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s1, err := NewLocal(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	defer s1.Stop()

	_, err = NewLocal(ctx, t.TempDir())
	if err != ErrSingletonExists {
		t.Fatalf("got %v, want ErrSingletonExists", err)
	}

	if err := s1.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	s2, err := NewLocal(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal after stop: %v", err)
	}
	_ = s2.Stop()
}

func TestExecUpdatesLastInteraction(t *testing.T) {
	requirePython(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	before := s.LastInteraction()
	time.Sleep(5 * time.Millisecond)

	stream, err := s.Exec(ctx, "1+1", kernel.Interp, 5*time.Second, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if _, err := stream.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !s.LastInteraction().After(before) {
		t.Fatalf("expected last_interaction to advance")
	}
}
