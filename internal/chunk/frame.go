package chunk

import (
	"fmt"
	"io"
	"regexp"
)

// frameRE matches one complete <txt>...</txt>, <img>...</img> or <err>...</err>
// frame. Payloads are never escaped — txt/err are plain text and img is
// base64, neither of which can contain the literal tag bytes, so regex
// matching over a growing buffer is safe per spec.md §4.5.
var frameRE = regexp.MustCompile(`(?s)<(txt|img|err)>(.*?)</(?:txt|img|err)>`)

// Encoder writes ExecChunks to an io.Writer as wire frames.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// flusher mirrors http.Flusher without importing net/http, so this package
// stays transport-agnostic (the gateway feeds it a concrete ResponseWriter
// that satisfies this interface; other writers just skip the flush).
type flusher interface {
	Flush()
}

// Encode writes one frame and flushes if the writer supports it.
func (e *Encoder) Encode(c ExecChunk) error {
	_, err := fmt.Fprintf(e.w, "<%s>%s</%s>", c.Type, c.Content, c.Type)
	if err != nil {
		return err
	}
	if f, ok := e.w.(flusher); ok {
		f.Flush()
	}
	return nil
}

// Decoder buffers arbitrarily-split bytes and emits ExecChunks for every
// complete frame as soon as one appears.
type Decoder struct {
	buf []byte
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly-read bytes and returns every complete chunk they
// completed. Partial trailing frames remain buffered for the next Feed.
func (d *Decoder) Feed(p []byte) []ExecChunk {
	d.buf = append(d.buf, p...)

	var out []ExecChunk
	for {
		loc := frameRE.FindSubmatchIndex(d.buf)
		if loc == nil {
			break
		}
		typ := Type(d.buf[loc[2]:loc[3]])
		content := string(d.buf[loc[4]:loc[5]])
		out = append(out, ExecChunk{Type: typ, Content: content})
		d.buf = d.buf[loc[1]:]
	}
	return out
}

// Pending returns the unconsumed bytes still in the buffer (a truncated
// stream, or a frame whose closing tag never arrived); it is empty when
// every fed byte belonged to a complete frame.
func (d *Decoder) Pending() []byte {
	return d.buf
}
