// Package chunk implements the streaming execution protocol's typed
// chunking: the framing that carries partial exec output from a kernel to
// an HTTP client, and the ExecResult views derived from a finished stream.
package chunk

import "strings"

// Type identifies what an ExecChunk carries.
type Type string

const (
	Text  Type = "txt"
	Image Type = "img"
	Error Type = "err"
)

// ExecChunk is one typed output unit emitted by a session's exec call.
type ExecChunk struct {
	Type    Type
	Content string
}

// Result is the concatenation of a chunk sequence into three views.
type Result struct {
	Text   string
	Images []string
	Errors []string
}

// Collect drains a chunk sequence into a Result, preserving emission order
// within each view.
func Collect(chunks []ExecChunk) Result {
	var r Result
	var text strings.Builder
	for _, c := range chunks {
		switch c.Type {
		case Text:
			text.WriteString(c.Content)
		case Image:
			r.Images = append(r.Images, c.Content)
		case Error:
			r.Errors = append(r.Errors, c.Content)
		}
	}
	r.Text = text.String()
	return r
}

// Len returns the sum of content lengths across every chunk, used to check
// the "concatenation preserves length" invariant (spec.md §3 ExecResult laws).
func Len(chunks []ExecChunk) int {
	n := 0
	for _, c := range chunks {
		n += len(c.Content)
	}
	return n
}
