// Package workdir implements the Working-Dir Manager (C2): per-session
// storage rooted at a private directory, servicing upload/download and a
// file-listing view.
package workdir

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrFileNotFound is returned by Download for a missing file.
var ErrFileNotFound = errors.New("workdir: file not found")

// ErrPathEscape is returned when a requested name would resolve outside the
// session's working directory (via ".." segments or a symlink).
var ErrPathEscape = errors.New("workdir: path escapes working directory")

// downloadChunkSize matches the spec's 8 KiB streaming block size.
const downloadChunkSize = 8 * 1024

// RemoteFile is a file descriptor relative to a session's working directory.
type RemoteFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Manager owns one session's filesystem root.
type Manager struct {
	root string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cache   []RemoteFile
	valid   bool

	fileLocksMu sync.Mutex
	fileLocks   map[string]*sync.Mutex
}

// lockFor serializes uploads/downloads of the same name, while leaving
// operations on different files free to run concurrently (spec §4.4).
func (m *Manager) lockFor(name string) *sync.Mutex {
	m.fileLocksMu.Lock()
	defer m.fileLocksMu.Unlock()
	if m.fileLocks == nil {
		m.fileLocks = make(map[string]*sync.Mutex)
	}
	l, ok := m.fileLocks[name]
	if !ok {
		l = &sync.Mutex{}
		m.fileLocks[name] = l
	}
	return l
}

// New creates a Manager rooted at root, creating the directory if it does
// not exist yet.
func New(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workdir: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workdir: create root: %w", err)
	}
	m := &Manager{root: abs}
	m.startWatch()
	return m, nil
}

// startWatch registers a recursive fsnotify watch on the root so list()'s
// cache is invalidated only when something actually changed, instead of
// re-walking the tree on every call (a common client polling pattern).
func (m *Manager) startWatch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		// Listing still works without a watcher; it just never caches.
		return
	}
	_ = filepath.WalkDir(m.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d == nil || !d.IsDir() {
			return nil
		}
		return w.Add(path)
	})
	m.mu.Lock()
	m.watcher = w
	m.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				m.invalidate()
				if ev.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = w.Add(ev.Name)
					}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func (m *Manager) invalidate() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}

// Close releases the watcher. It does not remove the working directory —
// persistence past the session's lifetime is an external decision.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// Root returns the absolute working directory path.
func (m *Manager) Root() string {
	return m.root
}

// resolve confines name to the working directory root, rejecting any path
// (via ".." or a symlink) that would escape it.
func (m *Manager) resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrPathEscape)
	}
	clean := filepath.Clean(filepath.Join(m.root, name))
	if clean != m.root && !strings.HasPrefix(clean, m.root+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	resolved, err := filepath.EvalSymlinks(clean)
	if err != nil {
		resolved, err = filepath.EvalSymlinks(filepath.Dir(clean))
	}
	if err == nil {
		rootResolved, rerr := filepath.EvalSymlinks(m.root)
		if rerr == nil && resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
			return "", ErrPathEscape
		}
	}
	return clean, nil
}

// Upload writes data to <root>/<name>, creating parent directories, and
// returns its descriptor.
func (m *Manager) Upload(name string, data []byte, timeout time.Duration) (RemoteFile, error) {
	path, err := m.resolve(name)
	if err != nil {
		return RemoteFile{}, err
	}
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return RemoteFile{}, fmt.Errorf("workdir: create parents: %w", err)
	}
	if err := writeWithDeadline(path, data, timeout); err != nil {
		return RemoteFile{}, err
	}
	m.invalidate()
	rel, _ := filepath.Rel(m.root, path)
	return RemoteFile{Path: filepath.ToSlash(rel), Size: int64(len(data))}, nil
}

func writeWithDeadline(path string, data []byte, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- os.WriteFile(path, data, 0o644) }()
	if timeout <= 0 {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("workdir: upload timed out")
	}
}

// Download streams the file's bytes in 8 KiB blocks onto the returned
// channel. The channel is closed when the file is fully read or an error
// occurs; the caller receives the error via the returned error channel.
func (m *Manager) Download(name string, timeout time.Duration) (<-chan []byte, <-chan error) {
	out := make(chan []byte, 4)
	errc := make(chan error, 1)

	path, err := m.resolve(name)
	if err != nil {
		close(out)
		errc <- err
		return out, errc
	}
	lock := m.lockFor(name)
	f, err := os.Open(path)
	if err != nil {
		close(out)
		if os.IsNotExist(err) {
			errc <- ErrFileNotFound
		} else {
			errc <- err
		}
		return out, errc
	}

	lock.Lock()
	go func() {
		defer lock.Unlock()
		defer close(out)
		defer f.Close()
		buf := make([]byte, downloadChunkSize)
		for {
			n, rerr := f.Read(buf)
			if n > 0 {
				chunkCopy := make([]byte, n)
				copy(chunkCopy, buf[:n])
				out <- chunkCopy
			}
			if rerr == io.EOF {
				errc <- nil
				return
			}
			if rerr != nil {
				errc <- rerr
				return
			}
		}
	}()
	return out, errc
}

// ReadAll is a convenience wrapper around Download for callers that want the
// whole file rather than a stream (used by the upload/download round-trip
// tests).
func (m *Manager) ReadAll(name string, timeout time.Duration) ([]byte, error) {
	out, errc := m.Download(name, timeout)
	var buf bytes.Buffer
	for b := range out {
		buf.Write(b)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// List enumerates all regular files recursively, paths relative to root,
// using a cached walk invalidated by the fsnotify watcher.
func (m *Manager) List() ([]RemoteFile, error) {
	m.mu.Lock()
	if m.valid {
		cached := append([]RemoteFile(nil), m.cache...)
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	var files []RemoteFile
	err := filepath.WalkDir(m.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		rel, rerr := filepath.Rel(m.root, path)
		if rerr != nil {
			return nil
		}
		files = append(files, RemoteFile{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workdir: list: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	m.mu.Lock()
	m.cache = files
	m.valid = true
	m.mu.Unlock()
	return files, nil
}
