package kernel

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/procspawn"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH")
	}
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	requirePython(t)
	d := New(procspawn.NewPlain())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Start(ctx, t.TempDir()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func TestExecHelloWorld(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := d.Exec(ctx, "print('Hello World!')", Interp, 5*time.Second, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	res, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if strings.TrimSpace(res.Text) != "Hello World!" {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
}

func TestExecDivisionByZero(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := d.Exec(ctx, "1/0", Interp, 5*time.Second, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	res, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected exactly one error chunk, got %d", len(res.Errors))
	}
	lower := strings.ToLower(res.Errors[0])
	if !strings.Contains(lower, "division") || !strings.Contains(lower, "zero") {
		t.Fatalf("error content = %q", res.Errors[0])
	}
}

func TestExecLoopSleep(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code := "import time\nfor i in range(3):\n    print(i)\n    time.sleep(0.01)\n"
	stream, err := d.Exec(ctx, code, Interp, 5*time.Second, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	res, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if strings.TrimSpace(res.Text) != "0\n1\n2" {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestExecShellEcho(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := d.Exec(ctx, "echo ok", Shell, 5*time.Second, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	res, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !strings.Contains(res.Text, "ok") {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestExecLongOutputTruncatesToLast500Chars(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// 690 chars from 100 print calls (200 stream messages, since print
	// writes the text and the newline separately): must collapse to one
	// "[...]\n"-prefixed tail of exactly the last 500 chars, not 100
	// individually-prefixed fragments.
	code := "for i in range(100):\n    print(f'line{i}')\n"
	stream, err := d.Exec(ctx, code, Interp, 5*time.Second, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	res, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !strings.HasPrefix(res.Text, "[...]\n") {
		t.Fatalf("text does not start with truncation marker: %q", res.Text[:min(30, len(res.Text))])
	}
	if strings.Count(res.Text, "[...]\n") != 1 {
		t.Fatalf("expected exactly one truncation marker, got %d: %q", strings.Count(res.Text, "[...]\n"), res.Text)
	}
	tail := strings.TrimPrefix(res.Text, "[...]\n")
	if len(tail) != truncatedTextLimit {
		t.Fatalf("tail length = %d, want %d", len(tail), truncatedTextLimit)
	}
	if !strings.HasSuffix(strings.TrimRight(tail, "\n"), "line99") {
		t.Fatalf("tail does not end with the last printed line: %q", tail)
	}
}

func TestExecTimeout(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := d.Exec(ctx, "import time; time.sleep(5)", Interp, 200*time.Millisecond, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	res, err := stream.Collect()
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if len(res.Errors) != 1 || res.Errors[0] != "Execution timed out" {
		t.Fatalf("errors = %v", res.Errors)
	}
}
