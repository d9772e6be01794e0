package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/chunk"
	"github.com/ehrlich-b/codeboxd/internal/kernel"
	"github.com/ehrlich-b/codeboxd/internal/workdir"
)

// dockerBackend is the "container-backed local" factory option: it behaves
// like localBackend but runs code inside a long-lived container via
// `docker exec` instead of a same-process subprocess. Unlike localBackend it
// has no persistent interpreter namespace between calls — each Exec is its
// own `python3 -c`/`sh -c` invocation — a simplification documented in
// DESIGN.md rather than a full bootstrap-in-container rig.
type dockerBackend struct {
	mu        sync.Mutex
	container string
	started   bool
}

func newDockerBackend(cfg Config) (Backend, error) {
	name := cfg.Container
	if name == "" {
		name = "codeboxd-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	b := &dockerBackend{container: name}
	if err := b.ensureStarted(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *dockerBackend) ensureStarted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	cmd := exec.Command("docker", "run", "-d", "--name", b.container, "python:3-slim", "sleep", "infinity")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("client: docker run: %w: %s", err, strings.TrimSpace(string(out)))
	}
	b.started = true
	return nil
}

func (b *dockerBackend) Exec(ctx context.Context, code string, kind kernel.Kind, timeout time.Duration, cwd string) (*ExecStream, error) {
	var args []string
	switch kind {
	case kernel.Interp:
		args = []string{"exec", "-i", b.container, "python3", "-c", code}
	case kernel.Shell:
		args = []string{"exec", "-i", b.container, "sh", "-c", code}
	default:
		return nil, kernel.ErrUnknownKernel
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	cmd := exec.CommandContext(execCtx, "docker", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}

	stream := newExecStream(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go pipeDockerOutput(&wg, stdout, chunk.Text, stream)
	go pipeDockerOutput(&wg, stderr, chunk.Error, stream)

	go func() {
		wg.Wait()
		waitErr := cmd.Wait()
		if cancel != nil {
			cancel()
		}
		if execCtx.Err() != nil {
			stream.send(chunk.ExecChunk{Type: chunk.Error, Content: "Execution timed out"})
			stream.close(kernel.ErrTimeout)
			return
		}
		stream.close(waitErr)
	}()
	return stream, nil
}

func pipeDockerOutput(wg *sync.WaitGroup, r io.Reader, typ chunk.Type, stream *ExecStream) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		stream.send(chunk.ExecChunk{Type: typ, Content: scanner.Text() + "\n"})
	}
}

func (b *dockerBackend) Upload(ctx context.Context, name string, data []byte, timeout time.Duration) (workdir.RemoteFile, error) {
	tmp, err := writeTempFile(data)
	if err != nil {
		return workdir.RemoteFile{}, err
	}
	defer removeTempFile(tmp)
	dst := b.container + ":/workspace/" + name
	if out, err := exec.Command("docker", "cp", tmp, dst).CombinedOutput(); err != nil {
		return workdir.RemoteFile{}, fmt.Errorf("client: docker cp upload: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return workdir.RemoteFile{Path: name, Size: int64(len(data))}, nil
}

func (b *dockerBackend) Download(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	tmp, err := tempFilePath()
	if err != nil {
		return nil, err
	}
	defer removeTempFile(tmp)
	src := b.container + ":/workspace/" + name
	if out, err := exec.Command("docker", "cp", src, tmp).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("client: docker cp download: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return readTempFile(tmp)
}

func (b *dockerBackend) List(ctx context.Context) ([]workdir.RemoteFile, error) {
	out, err := exec.Command("docker", "exec", b.container, "find", "/workspace", "-type", "f", "-printf", "%P %s\n").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("client: docker list: %w: %s", err, strings.TrimSpace(string(out)))
	}
	var files []workdir.RemoteFile
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, " ")
		if idx < 0 {
			continue
		}
		size, serr := strconv.ParseInt(line[idx+1:], 10, 64)
		if serr != nil {
			continue
		}
		files = append(files, workdir.RemoteFile{Path: line[:idx], Size: size})
	}
	return files, nil
}

// Restart drops the entire container and starts a fresh one: a docker-exec
// backend has no lighter-weight namespace reset to send, unlike the
// in-process kernel's restart sentinel.
func (b *dockerBackend) Restart(ctx context.Context) error {
	b.mu.Lock()
	_ = exec.Command("docker", "rm", "-f", b.container).Run()
	b.started = false
	b.mu.Unlock()
	return b.ensureStarted()
}

func (b *dockerBackend) Close() error {
	return exec.Command("docker", "rm", "-f", b.container).Run()
}
