package kernel

import (
	"regexp"
	"strings"

	"github.com/ehrlich-b/codeboxd/internal/chunk"
)

// message is the internal Kernel message record (spec §3): it never crosses
// the wire, only the classification boundary inside this package.
type message struct {
	MsgType  string                 `json:"msg_type"`
	ParentID string                 `json:"parent_id"`
	Content  map[string]interface{} `json:"content"`
}

// imageSentinelRE finds every <image>...</image> block the bootstrap script's
// patched plt.show() wrote to the cell's stdout, which arrives here as the
// text of a "stream" message.
var imageSentinelRE = regexp.MustCompile(`(?s)<image>(.*?)</image>`)

const truncatedTextLimit = 500

// classifier turns interpreter messages into ExecChunks, applying the
// cumulative 500-char txt truncation rule across a single exec call. Text is
// not emitted as it arrives; it's accumulated into a rolling tail buffer and
// only surfaces via flush, once, when the call ends — matching the original
// box's `result = "[...]\n" + result[-500:]` applied to the whole run rather
// than to each individual message.
type classifier struct {
	textBuf   []byte
	truncated bool
}

// classify applies the interp-kernel classification table from spec §4.1. It
// returns zero or more chunks (images and errors stream immediately; txt
// does not) and whether this message ends the stream (a status/idle event
// matching the call's parent id). Callers must call flush once done to pick
// up the accumulated text.
func (c *classifier) classify(parentID string, m message) (chunks []chunk.ExecChunk, done bool) {
	if m.ParentID != "" && m.ParentID != parentID {
		return nil, false
	}
	switch m.MsgType {
	case "stream":
		text, _ := m.Content["text"].(string)
		if strings.Contains(text, "Requirement already satisfied") {
			return nil, false
		}
		return c.splitImageSentinels(text), false
	case "execute_result":
		text, _ := m.Content["text/plain"].(string)
		c.appendText(text)
		return nil, false
	case "display_data":
		if png, ok := m.Content["image/png"].(string); ok && png != "" {
			return []chunk.ExecChunk{{Type: chunk.Image, Content: png}}, false
		}
		if text, ok := m.Content["text/plain"].(string); ok {
			c.appendText(text)
		}
		return nil, false
	case "error":
		ename, _ := m.Content["ename"].(string)
		evalue, _ := m.Content["evalue"].(string)
		return []chunk.ExecChunk{{Type: chunk.Error, Content: ename + ": " + evalue}}, false
	case "status":
		state, _ := m.Content["execution_state"].(string)
		return nil, state == "idle"
	default:
		return nil, false
	}
}

// splitImageSentinels extracts every <image>...</image> block embedded in
// plain stream text, emitting one img chunk per match immediately and
// folding the remaining text (sentinels removed) into the accumulated txt
// buffer.
func (c *classifier) splitImageSentinels(text string) []chunk.ExecChunk {
	matches := imageSentinelRE.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		c.appendText(text)
		return nil
	}
	var out []chunk.ExecChunk
	var rest strings.Builder
	last := 0
	for _, m := range matches {
		rest.WriteString(text[last:m[0]])
		out = append(out, chunk.ExecChunk{Type: chunk.Image, Content: text[m[2]:m[3]]})
		last = m[1]
	}
	rest.WriteString(text[last:])
	c.appendText(rest.String())
	return out
}

// appendText folds more text into the rolling tail buffer, keeping at most
// the trailing truncatedTextLimit bytes and remembering whether anything was
// ever dropped off the front.
func (c *classifier) appendText(text string) {
	if text == "" {
		return
	}
	if !c.truncated && len(c.textBuf)+len(text) > truncatedTextLimit {
		c.truncated = true
	}
	c.textBuf = append(c.textBuf, text...)
	if len(c.textBuf) > truncatedTextLimit {
		c.textBuf = c.textBuf[len(c.textBuf)-truncatedTextLimit:]
	}
}

// flush returns the single txt chunk carrying everything accumulated so far,
// prefixed with "[...]\n" iff the run's total output ever exceeded the
// truncation limit. Call once, when the exec call is ending.
func (c *classifier) flush() []chunk.ExecChunk {
	if len(c.textBuf) == 0 {
		return nil
	}
	if c.truncated {
		return []chunk.ExecChunk{{Type: chunk.Text, Content: "[...]\n" + string(c.textBuf)}}
	}
	return []chunk.ExecChunk{{Type: chunk.Text, Content: string(c.textBuf)}}
}
