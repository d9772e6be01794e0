// Package client implements the Client Runtime (C6): a single facade over
// three interchangeable backends (in-process, container, remote HTTP), each
// yielding the same stream/collect shape regardless of which one is live.
package client

import (
	"context"
	"sync"

	"github.com/ehrlich-b/codeboxd/internal/chunk"
)

// streamBound matches the Kernel Driver's own bounded-queue constant (spec
// §5's back-pressure guidance), kept identical for corpus-wide consistency.
const streamBound = 64

// ExecStream is the client-side iterator every backend's Exec returns,
// mirroring internal/kernel.ExecStream's shape so a caller never has to
// care which backend produced it.
type ExecStream struct {
	ctx    context.Context
	ch     chan chunk.ExecChunk
	mu     sync.Mutex
	err    error
	chunks []chunk.ExecChunk
}

func newExecStream(ctx context.Context) *ExecStream {
	return &ExecStream{
		ctx: ctx,
		ch:  make(chan chunk.ExecChunk, streamBound),
	}
}

func (s *ExecStream) send(c chunk.ExecChunk) {
	select {
	case s.ch <- c:
	case <-s.ctx.Done():
	}
}

func (s *ExecStream) close(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// Next blocks for the next chunk; ok is false once the stream is exhausted.
func (s *ExecStream) Next() (chunk.ExecChunk, bool) {
	c, ok := <-s.ch
	if ok {
		s.mu.Lock()
		s.chunks = append(s.chunks, c)
		s.mu.Unlock()
	}
	return c, ok
}

// Err returns the stream's terminal error, if any.
func (s *ExecStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Collect is the synchronous facade: it mechanically drains Next in a loop
// and returns the accumulated chunk.Result, without requiring the caller to
// own an event loop of its own (spec §4.6 sync/async parity).
func (s *ExecStream) Collect() (chunk.Result, error) {
	for {
		if _, ok := s.Next(); !ok {
			break
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return chunk.Collect(s.chunks), s.err
}
