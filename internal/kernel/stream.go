package kernel

import (
	"context"
	"sync"

	"github.com/ehrlich-b/codeboxd/internal/chunk"
)

// streamBound is the bounded-queue size between a kernel's output reader and
// whatever is draining the stream (the gateway's HTTP handler, or a test).
// Kept small to back-pressure without stalling the interpreter, matching the
// same constant the rest of this codebase uses for its other fan-in queues.
const streamBound = 64

// ExecStream is the "stream[ExecChunk]" result of an exec call: a bounded
// iterator with a trailing error, not unlike a Future that yields many
// values before resolving.
type ExecStream struct {
	ctx     context.Context
	ch      chan chunk.ExecChunk
	doneCh  chan struct{}
	mu      sync.Mutex
	err     error
	done    bool
	chunks  []chunk.ExecChunk
}

func newExecStream(ctx context.Context) *ExecStream {
	return &ExecStream{
		ctx:    ctx,
		ch:     make(chan chunk.ExecChunk, streamBound),
		doneCh: make(chan struct{}),
	}
}

// Done reports, independent of whatever is draining Next, when the stream
// has reached its terminal chunk. Used by callers (the Session) that need to
// know an exec call finished without themselves consuming the chunks.
func (s *ExecStream) Done() <-chan struct{} {
	return s.doneCh
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
	s.done = true
	s.mu.Unlock()
	close(s.ch)
	close(s.doneCh)
}

// Next blocks for the next chunk. ok is false once the stream is exhausted;
// callers should then check Err.
func (s *ExecStream) Next() (chunk.ExecChunk, bool) {
	c, ok := <-s.ch
	if ok {
		s.mu.Lock()
		s.chunks = append(s.chunks, c)
		s.mu.Unlock()
	}
	return c, ok
}

// Err returns the terminal error, if any, once the stream is exhausted.
func (s *ExecStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Collect drains the stream and returns the accumulated chunk.Result.
func (s *ExecStream) Collect() (chunk.Result, error) {
	for {
		_, ok := s.Next()
		if !ok {
			break
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return chunk.Collect(s.chunks), s.err
}
