package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/audit"
	"github.com/ehrlich-b/codeboxd/internal/chunk"
	"github.com/ehrlich-b/codeboxd/internal/kernel"
	"github.com/ehrlich-b/codeboxd/internal/workdir"
)

// execRequest is the body of POST /exec.
type execRequest struct {
	Code    string `json:"code"`
	Kernel  string `json:"kernel"`
	Timeout int    `json:"timeout_seconds"`
	Cwd     string `json:"cwd"`
}

func parseKind(raw string) (kernel.Kind, error) {
	switch raw {
	case "", "interp", "python":
		return kernel.Interp, nil
	case "shell", "bash":
		return kernel.Shell, nil
	default:
		return "", errors.New("unknown kernel: " + raw)
	}
}

// handleExec runs code in the gateway's session and streams the result as
// concatenated <txt>/<img>/<err> frames, flushing after each one so a client
// reading the response body sees output as it's produced.
func (g *Gateway) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	kind, err := parseKind(req.Kernel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := g.ensureSession(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	timeout := time.Duration(req.Timeout) * time.Second
	stream, err := sess.Exec(r.Context(), req.Code, kind, timeout, req.Cwd)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.trail.Record(sess.ID(), audit.ExecStart, string(kind))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	enc := chunk.NewEncoder(w)
	for {
		c, ok := stream.Next()
		if !ok {
			break
		}
		if err := enc.Encode(c); err != nil {
			break
		}
	}
	detail := ""
	if streamErr := stream.Err(); streamErr != nil {
		detail = streamErr.Error()
	}
	g.trail.Record(sess.ID(), audit.ExecEnd, detail)
}

// handleUpload accepts a multipart form with a single "file" field and writes
// it into the session's working directory.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, err := g.ensureSession(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read upload: "+err.Error())
		return
	}

	timeout := parseTimeoutQuery(r, 30*time.Second)
	rf, err := sess.Upload(header.Filename, data, timeout)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rf)
}

// handleDownload streams a file from the session's working directory,
// flushing each block so large files don't have to buffer in memory.
func (g *Gateway) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, err := g.ensureSession(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	name := r.PathValue("name")
	timeout := parseTimeoutQuery(r, 30*time.Second)
	out, errc := sess.Download(name, timeout)

	var wroteHeader bool
	flusher, canFlush := w.(interface{ Flush() })
	for b := range out {
		if !wroteHeader {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			wroteHeader = true
		}
		if _, werr := w.Write(b); werr != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
	if err := <-errc; err != nil {
		if !wroteHeader {
			if errors.Is(err, workdir.ErrFileNotFound) {
				writeError(w, http.StatusNotFound, "file not found")
			} else {
				writeError(w, http.StatusInternalServerError, err.Error())
			}
		}
		return
	}
	if !wroteHeader {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
	}
}

func parseTimeoutQuery(r *http.Request, def time.Duration) time.Duration {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return def
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// legacyExecuteRequest/Response preserve the deprecated /code/execute wire
// shape byte-for-byte (spec §9 design notes): callers still speaking it get
// the buffered result rather than a streamed one.
type legacyExecuteRequest struct {
	Properties struct {
		Code string `json:"code"`
	} `json:"properties"`
}

type legacyExecuteResponse struct {
	Properties struct {
		Stdout string   `json:"stdout"`
		Stderr []string `json:"stderr"`
		Result string   `json:"result"`
	} `json:"properties"`
}

func (g *Gateway) handleLegacyExecute(w http.ResponseWriter, r *http.Request) {
	var req legacyExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	sess, err := g.ensureSession(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stream, err := sess.Exec(r.Context(), req.Properties.Code, kernel.Interp, 30*time.Second, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.trail.Record(sess.ID(), audit.ExecStart, "legacy")
	result, execErr := stream.Collect()
	detail := ""
	if execErr != nil {
		detail = execErr.Error()
	}
	g.trail.Record(sess.ID(), audit.ExecEnd, detail)

	var resp legacyExecuteResponse
	resp.Properties.Stdout = result.Text
	resp.Properties.Stderr = result.Errors
	resp.Properties.Result = result.Text
	writeJSON(w, http.StatusOK, resp)
}

// handleRestart clears the session's interpreter namespace without tearing
// down its working directory. Not part of spec.md's base HTTP surface table
// (§6 lists only exec/upload/download/execute) but required so the remote
// Client Runtime backend has parity with the in-process one's Restart
// method.
func (g *Gateway) handleRestart(w http.ResponseWriter, r *http.Request) {
	sess, err := g.ensureSession(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sess.Restart(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDebugEvents surfaces the audit trail's recent session-lifecycle
// events for operational diagnostics. Not part of spec.md's HTTP surface;
// purely observational, same as the trail itself.
func (g *Gateway) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	if g.trail == nil {
		writeJSON(w, http.StatusOK, []audit.Event{})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := g.trail.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}
