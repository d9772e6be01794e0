package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/kernel"
	"github.com/ehrlich-b/codeboxd/internal/workdir"
)

// Client wraps a selected Backend with spec §4.6's scripted helpers, all of
// which are expressed as exec calls rather than separate protocol verbs.
type Client struct {
	backend Backend
}

// NewClient selects a backend per the factory rule and wraps it.
func NewClient(cfg Config) (*Client, error) {
	b, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{backend: b}, nil
}

func (c *Client) Exec(ctx context.Context, code string, kind kernel.Kind, timeout time.Duration, cwd string) (*ExecStream, error) {
	return c.backend.Exec(ctx, code, kind, timeout, cwd)
}

func (c *Client) Upload(ctx context.Context, name string, data []byte, timeout time.Duration) (workdir.RemoteFile, error) {
	return c.backend.Upload(ctx, name, data, timeout)
}

func (c *Client) Download(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	return c.backend.Download(ctx, name, timeout)
}

func (c *Client) List(ctx context.Context) ([]workdir.RemoteFile, error) {
	return c.backend.List(ctx)
}

func (c *Client) Restart(ctx context.Context) error {
	return c.backend.Restart(ctx)
}

func (c *Client) Close() error {
	return c.backend.Close()
}

// execText runs code via the given kernel and collects it down to plain
// text, the shape every scripted helper below needs.
func (c *Client) execText(ctx context.Context, code string, kind kernel.Kind) (string, error) {
	stream, err := c.backend.Exec(ctx, code, kind, 30*time.Second, "")
	if err != nil {
		return "", err
	}
	result, err := stream.Collect()
	if err != nil {
		return "", err
	}
	if len(result.Errors) > 0 {
		return result.Text, fmt.Errorf("client: %s", strings.Join(result.Errors, "; "))
	}
	return result.Text, nil
}

// Install runs `uv pip install <pkgs>` in the shell kernel.
func (c *Client) Install(ctx context.Context, pkgs ...string) (string, error) {
	return c.execText(ctx, "uv pip install "+strings.Join(pkgs, " "), kernel.Shell)
}

// ListFiles runs the spec-mandated du/awk/sort pipeline and decodes the
// K/M/G/T size suffixes it produces into byte counts.
func (c *Client) ListFiles(ctx context.Context) ([]workdir.RemoteFile, error) {
	text, err := c.execText(ctx, "find . -type f -exec du -h {} + | awk '{print $2, $1}' | sort", kernel.Shell)
	if err != nil {
		return nil, err
	}
	return parseListFilesOutput(text), nil
}

// sizeSuffixes maps the du -h suffix letters to their 1024^n multiplier.
var sizeSuffixes = map[byte]int64{
	'K': 1024,
	'M': 1024 * 1024,
	'G': 1024 * 1024 * 1024,
	'T': 1024 * 1024 * 1024 * 1024,
}

// parseListFilesOutput parses "path size" lines where size carries an
// optional K/M/G/T suffix (spec §4.6: "decode size suffixes K/M/G/T as
// 1024^n").
func parseListFilesOutput(text string) []workdir.RemoteFile {
	var files []workdir.RemoteFile
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			continue
		}
		path, rawSize := line[:sp], line[sp+1:]
		size, ok := parseSizeWithSuffix(rawSize)
		if !ok {
			continue
		}
		files = append(files, workdir.RemoteFile{Path: path, Size: size})
	}
	return files
}

func parseSizeWithSuffix(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	last := raw[len(raw)-1]
	if mult, ok := sizeSuffixes[last]; ok {
		n, err := strconv.ParseFloat(raw[:len(raw)-1], 64)
		if err != nil {
			return 0, false
		}
		return int64(n * float64(mult)), true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListPackages runs `uv pip list`, dropping its two-line header.
func (c *Client) ListPackages(ctx context.Context) ([]string, error) {
	text, err := c.execText(ctx, "uv pip list | tail -n +3 | cut -d ' ' -f 1", kernel.Shell)
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			pkgs = append(pkgs, line)
		}
	}
	return pkgs, nil
}

// showVariablesCode walks the interpreter's persistent namespace the same
// way IPython's %who enumerates the interactive namespace (skipping dunders,
// imported modules, and functions), then prints each remaining variable's
// value with no separator between values (spec §4.6: "%who then print(v, end='') per
// variable"). The interp kernel here execs plain Python rather than hosting
// a real IPython, so %who itself isn't valid syntax; this reproduces its
// effect directly.
const showVariablesCode = `
import types as _codeboxd_types
for _codeboxd_k, _codeboxd_v in list(globals().items()):
    if _codeboxd_k.startswith('_') or isinstance(_codeboxd_v, _codeboxd_types.ModuleType) or callable(_codeboxd_v):
        continue
    print(_codeboxd_v, end='')
`

// ShowVariables lists the interpreter namespace and prints each variable's
// value, interp-kernel only.
func (c *Client) ShowVariables(ctx context.Context) (string, error) {
	return c.execText(ctx, showVariablesCode, kernel.Interp)
}

// Healthcheck reports "healthy" iff the shell kernel's echo round-trips ok.
func (c *Client) Healthcheck(ctx context.Context) (string, error) {
	text, err := c.execText(ctx, "echo ok", kernel.Shell)
	if err != nil {
		return "", err
	}
	if strings.Contains(text, "ok") {
		return "healthy", nil
	}
	return "unhealthy", nil
}

// KeepAlive pings Healthcheck once a minute for the given number of
// iterations, returning once ctx is cancelled or the count is reached. It
// runs in the caller's goroutine; callers wanting a background task should
// launch it with `go`.
func (c *Client) KeepAlive(ctx context.Context, minutes int) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for i := 0; i < minutes; i++ {
		if _, err := c.Healthcheck(ctx); err != nil {
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
