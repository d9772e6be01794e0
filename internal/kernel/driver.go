// Package kernel implements the Kernel Driver (C1): it owns one interpreter
// subprocess per session, submits code to it, and classifies its
// asynchronous event stream into typed ExecChunks.
package kernel

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/chunk"
	"github.com/ehrlich-b/codeboxd/internal/logger"
	"github.com/ehrlich-b/codeboxd/internal/procspawn"
)

//go:embed bootstrap.py
var bootstrapScript []byte

// Kind selects which kernel flavor an exec call targets.
type Kind string

const (
	Interp Kind = "interp"
	Shell  Kind = "shell"
)

const (
	maxRestarts      = 3
	restartBackoff   = 200 * time.Millisecond
	restartProbeWait = 3 * time.Second
	stopGraceTerm    = 2 * time.Second
	stopGraceKill    = 5 * time.Second
)

// Driver manages one interpreter subprocess and one scratch area for shell
// invocations, both rooted at the same session working directory.
type Driver struct {
	spawner    procspawn.Spawner
	cwd        string
	scriptPath string

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	msgs     chan message
	crashed  chan struct{}
	stopped  bool
	restarts int
	msgSeq   uint64
}

// New constructs a Driver bound to no process yet; call Start to spawn the
// interpreter.
func New(spawner procspawn.Spawner) *Driver {
	return &Driver{spawner: spawner}
}

// Start spawns the interpreter with cwd as its process working directory and
// patches its display hook so plots become inline <image> sentinels. It
// fails with ErrKernelStartFailed if python3 is missing or the readiness
// probe doesn't answer within its deadline.
func (d *Driver) Start(ctx context.Context, cwd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	scriptPath, err := materializeBootstrap()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelStartFailed, err)
	}
	d.scriptPath = scriptPath
	d.cwd = cwd
	return d.spawnLocked(ctx)
}

func (d *Driver) spawnLocked(ctx context.Context) error {
	cmd, err := d.spawner.Spawn(context.Background(), d.cwd, "python3", "-u", d.scriptPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelStartFailed, err)
	}
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelStartFailed, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKernelStartFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrKernelStartFailed, err)
	}

	d.cmd = cmd
	d.msgs = make(chan message, streamBound)
	d.crashed = make(chan struct{})
	d.stdin = stdinPipe

	go d.readLoop(stdoutPipe, d.msgs, d.crashed)

	if err := d.probe(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrKernelStartFailed, err)
	}
	return nil
}

func (d *Driver) readLoop(stdout io.Reader, msgs chan message, crashed chan struct{}) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var m message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			continue
		}
		msgs <- m
	}
	close(crashed)
}

// probe verifies the fresh interpreter answers a trivial restart/idle round
// trip before Start/restart returns.
func (d *Driver) probe(ctx context.Context) error {
	id := d.nextMsgID()
	if err := d.writeRequest(map[string]string{"type": "restart", "msg_id": id}); err != nil {
		return err
	}
	deadline := time.NewTimer(restartProbeWait)
	defer deadline.Stop()
	for {
		select {
		case m := <-d.msgs:
			if m.MsgType == "status" && m.ParentID == id {
				return nil
			}
		case <-d.crashed:
			return fmt.Errorf("interpreter exited during probe")
		case <-deadline.C:
			return fmt.Errorf("probe timed out")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Driver) nextMsgID() string {
	d.msgSeq++
	return fmt.Sprintf("%d", d.msgSeq)
}

func (d *Driver) writeRequest(req map[string]string) error {
	enc, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = d.stdin.Write(append(enc, '\n'))
	return err
}

// Exec submits code to the named kernel flavor and returns a stream of
// ExecChunks. The call blocks until the stream is fully set up; draining the
// returned stream is the caller's job.
func (d *Driver) Exec(ctx context.Context, code string, kind Kind, timeout time.Duration, cwdOverride string) (*ExecStream, error) {
	switch kind {
	case Interp:
		return d.execInterp(ctx, code, timeout)
	case Shell:
		dir := d.cwd
		if cwdOverride != "" {
			dir = cwdOverride
		}
		return d.execShell(ctx, code, timeout, dir)
	default:
		return nil, ErrUnknownKernel
	}
}

func (d *Driver) execInterp(ctx context.Context, code string, timeout time.Duration) (*ExecStream, error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, ErrStopped
	}
	id := d.nextMsgID()
	msgs := d.msgs
	crashed := d.crashed
	d.mu.Unlock()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := d.writeRequest(map[string]string{"type": "exec", "msg_id": id, "code": code}); err != nil {
		return d.recoverFromCrash(ctx, code, timeout)
	}

	stream := newExecStream(ctx)
	go d.pumpInterp(stream, id, msgs, crashed, timeout)
	return stream, nil
}

func (d *Driver) pumpInterp(stream *ExecStream, id string, msgs chan message, crashed chan struct{}, timeout time.Duration) {
	c := &classifier{}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				stream.close(fmt.Errorf("%w", ErrKernelCrash))
				return
			}
			chunks, done := c.classify(id, m)
			for _, ch := range chunks {
				stream.send(ch)
			}
			if done {
				for _, ch := range c.flush() {
					stream.send(ch)
				}
				stream.close(nil)
				return
			}
		case <-crashed:
			for _, ch := range c.flush() {
				stream.send(ch)
			}
			if d.restartAndRetry() {
				stream.send(chunk.ExecChunk{Type: chunk.Error, Content: "interpreter restarted after crash"})
			} else {
				stream.send(chunk.ExecChunk{Type: chunk.Error, Content: ErrKernelCrash.Error()})
			}
			stream.close(ErrKernelCrash)
			return
		case <-timer.C:
			for _, ch := range c.flush() {
				stream.send(ch)
			}
			stream.send(chunk.ExecChunk{Type: chunk.Error, Content: "Execution timed out"})
			stream.close(ErrTimeout)
			// Interrupt the blocked cell so the interpreter is usable again
			// for the next exec call, per the cancellation propagation in
			// the concurrency model; a process that doesn't recover from
			// SIGINT surfaces as a crash on the next call instead.
			d.mu.Lock()
			cmd := d.cmd
			d.mu.Unlock()
			if cmd != nil {
				_ = procspawn.Signal(cmd, syscall.SIGINT)
			}
			return
		case <-stream.ctx.Done():
			stream.close(stream.ctx.Err())
			return
		}
	}
}

// recoverFromCrash is reached when writing the exec request itself fails
// (the interpreter had already died). It attempts the restart budget before
// giving up.
func (d *Driver) recoverFromCrash(ctx context.Context, code string, timeout time.Duration) (*ExecStream, error) {
	if !d.restartAndRetry() {
		return nil, ErrKernelCrash
	}
	return d.execInterp(ctx, code, timeout)
}

// restartAndRetry attempts up to maxRestarts respawns with linear backoff,
// per spec §4.1 crash semantics. The budget covers the driver's whole
// lifetime. Returns false once the budget is exhausted, at which point the
// driver marks itself stopped and later calls fail with ErrStopped; the
// owning Session's State is not changed.
func (d *Driver) restartAndRetry() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.restarts < maxRestarts {
		d.restarts++
		time.Sleep(time.Duration(d.restarts) * restartBackoff)
		if err := d.spawnLocked(context.Background()); err != nil {
			logger.Error("kernel restart failed", "attempt", d.restarts, "err", err)
			continue
		}
		return true
	}
	d.stopped = true
	return false
}

// Restart sends the interpreter's restart sentinel, resetting its namespace
// while leaving the OS process and working directory untouched. If the
// process is no longer alive it falls back to a full respawn, which still
// preserves the working directory since Stop never deletes it.
func (d *Driver) Restart(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	d.mu.Unlock()

	id := d.nextMsgID()
	if err := d.writeRequest(map[string]string{"type": "restart", "msg_id": id}); err != nil {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.spawnLocked(ctx)
	}

	d.mu.Lock()
	msgs, crashed := d.msgs, d.crashed
	d.mu.Unlock()

	deadline := time.NewTimer(restartProbeWait)
	defer deadline.Stop()
	for {
		select {
		case m := <-msgs:
			if m.MsgType == "status" && m.ParentID == id {
				return nil
			}
		case <-crashed:
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.spawnLocked(ctx)
		case <-deadline.C:
			return fmt.Errorf("restart probe timed out")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop requests graceful shutdown: close stdin, then SIGTERM, then SIGKILL,
// with the spec's 2s and 5s grace windows respectively.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.cmd == nil {
		d.stopped = true
		return nil
	}
	d.stopped = true

	if d.stdin != nil {
		_ = d.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		_ = d.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(stopGraceTerm):
	}

	_ = procspawn.Signal(d.cmd, syscall.SIGTERM)
	select {
	case <-done:
		return nil
	case <-time.After(stopGraceKill):
	}

	_ = procspawn.Signal(d.cmd, syscall.SIGKILL)
	<-done
	return nil
}

func materializeBootstrap() (string, error) {
	dir, err := os.MkdirTemp("", "codeboxd-kernel-*")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "bootstrap.py")
	if err := os.WriteFile(path, bootstrapScript, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
