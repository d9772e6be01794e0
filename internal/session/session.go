// Package session implements the Session (C3): one Kernel Driver bound to
// one Working-Dir Manager, with a lifetime, identity, and the in-process
// singleton guard for local mode.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/codeboxd/internal/chunk"
	"github.com/ehrlich-b/codeboxd/internal/kernel"
	"github.com/ehrlich-b/codeboxd/internal/procspawn"
	"github.com/ehrlich-b/codeboxd/internal/workdir"
)

// State is a Session's lifecycle state.
type State string

const (
	Starting State = "starting"
	Running  State = "running"
	Stopped  State = "stopped"
)

// ErrSingletonExists is returned by NewLocal when an in-process session
// already exists in this host process. Per the spec's design notes, this is
// a typed construction-time error rather than a silent return of the
// existing instance — callers that want the existing session must ask for
// it explicitly via the registry that owns it.
var ErrSingletonExists = errors.New("session: in-process session already exists")

var (
	localMu     sync.Mutex
	localExists bool
)

// Session binds one kernel.Driver and one workdir.Manager.
type Session struct {
	id     string
	driver *kernel.Driver
	files  *workdir.Manager

	mu              sync.Mutex
	state           State
	lastInteraction time.Time
	local           bool

	// execLock serializes exec calls: exactly one in flight per session.
	execLock chan struct{}
}

// NewID generates an opaque hex session identifier.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// New starts a remote/docker-flavored session: no singleton constraint.
func New(ctx context.Context, root string) (*Session, error) {
	return newSession(ctx, root, false)
}

// NewLocal starts the in-process singleton session. A second call in the
// same process fails with ErrSingletonExists until the first is stopped.
func NewLocal(ctx context.Context, root string) (*Session, error) {
	localMu.Lock()
	if localExists {
		localMu.Unlock()
		return nil, ErrSingletonExists
	}
	localExists = true
	localMu.Unlock()

	s, err := newSession(ctx, root, true)
	if err != nil {
		localMu.Lock()
		localExists = false
		localMu.Unlock()
		return nil, err
	}
	return s, nil
}

func newSession(ctx context.Context, root string, local bool) (*Session, error) {
	s := &Session{
		id:              NewID(),
		state:           Starting,
		lastInteraction: time.Now(),
		local:           local,
		execLock:        make(chan struct{}, 1),
	}

	files, err := workdir.New(root)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s.files = files

	driver := kernel.New(procspawn.NewPlain())
	if err := driver.Start(ctx, files.Root()); err != nil {
		_ = files.Close()
		return nil, fmt.Errorf("session: %w", err)
	}
	s.driver = driver
	s.state = Running
	return s, nil
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// Root returns the session's working directory.
func (s *Session) Root() string { return s.files.Root() }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastInteraction = time.Now()
	s.mu.Unlock()
}

// LastInteraction returns the time of the most recent public operation.
func (s *Session) LastInteraction() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInteraction
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Exec serializes one exec per session (spec §4.4 concurrency rule): a
// second concurrent call blocks until the first's terminal chunk is emitted.
func (s *Session) Exec(ctx context.Context, code string, kind kernel.Kind, timeout time.Duration, cwdOverride string) (*kernel.ExecStream, error) {
	s.touch()
	select {
	case s.execLock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stream, err := s.driver.Exec(ctx, code, kind, timeout, cwdOverride)
	if err != nil {
		<-s.execLock
		return nil, err
	}

	go func() {
		<-stream.Done()
		<-s.execLock
	}()
	return stream, nil
}

// Restart clears interpreter state while preserving the working directory.
func (s *Session) Restart(ctx context.Context) error {
	s.touch()
	return s.driver.Restart(ctx)
}

// Upload writes a file into the session's working directory.
func (s *Session) Upload(name string, data []byte, timeout time.Duration) (workdir.RemoteFile, error) {
	s.touch()
	return s.files.Upload(name, data, timeout)
}

// Download streams a file from the session's working directory.
func (s *Session) Download(name string, timeout time.Duration) (<-chan []byte, <-chan error) {
	s.touch()
	return s.files.Download(name, timeout)
}

// List enumerates the session's working directory.
func (s *Session) List() ([]workdir.RemoteFile, error) {
	s.touch()
	return s.files.List()
}

// Stop cancels any in-flight exec, stops the kernel, and releases network
// sockets, leaving the working directory on disk.
func (s *Session) Stop() error {
	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()

	if s.local {
		localMu.Lock()
		localExists = false
		localMu.Unlock()
	}

	err := s.driver.Stop()
	if cerr := s.files.Close(); err == nil {
		err = cerr
	}
	return err
}

// Collect drains an exec stream into a chunk.Result, a thin convenience over
// kernel.ExecStream.Collect.
func Collect(stream *kernel.ExecStream) (chunk.Result, error) {
	return stream.Collect()
}
