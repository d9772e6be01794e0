package client

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
		t.Skip("python3 not available")
	}
}

func TestParseListFilesOutput(t *testing.T) {
	text := "./a.txt 12\n./b.bin 4.0K\n./c.bin 2.5M\n./d.bin 1G\n"
	files := parseListFilesOutput(text)
	if len(files) != 4 {
		t.Fatalf("got %d files, want 4", len(files))
	}
	if files[0].Size != 12 {
		t.Fatalf("a.txt size = %d, want 12", files[0].Size)
	}
	if files[1].Size != 4096 {
		t.Fatalf("b.bin size = %d, want 4096", files[1].Size)
	}
	if files[3].Size != 1024*1024*1024 {
		t.Fatalf("d.bin size = %d, want 1GiB", files[3].Size)
	}
}

func TestLocalBackendFactoryAndExec(t *testing.T) {
	requirePython(t)
	c, err := NewClient(Config{APIKey: "local", WorkdirBase: t.TempDir()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	stream, err := c.Exec(context.Background(), "2 + 2", kernel.Interp, 5*time.Second, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	result, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if result.Text != "4" {
		t.Fatalf("result.Text = %q, want %q", result.Text, "4")
	}
}

func TestShowVariablesPrintsValues(t *testing.T) {
	requirePython(t)
	c, err := NewClient(Config{APIKey: "local", WorkdirBase: t.TempDir()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if _, err := c.execText(ctx, "x = 42", kernel.Interp); err != nil {
		t.Fatalf("seed exec: %v", err)
	}
	out, err := c.ShowVariables(ctx)
	if err != nil {
		t.Fatalf("ShowVariables: %v", err)
	}
	if out != "42" {
		t.Fatalf("ShowVariables output = %q, want %q", out, "42")
	}
}

func TestHealthcheckHealthy(t *testing.T) {
	requirePython(t)
	c, err := NewClient(Config{APIKey: "local", WorkdirBase: t.TempDir()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	status, err := c.Healthcheck(context.Background())
	if err != nil {
		t.Fatalf("Healthcheck: %v", err)
	}
	if status != "healthy" {
		t.Fatalf("status = %q, want healthy", status)
	}
}
