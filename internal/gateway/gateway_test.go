package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/audit"
	"github.com/ehrlich-b/codeboxd/internal/config"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	requirePython(t)
	cfg := config.Config{
		WorkdirBase:    t.TempDir(),
		IdleTimeout:    time.Hour,
		IdleTimeoutRaw: "60",
	}
	g := New(cfg, nil)
	t.Cleanup(func() {
		g.mu.Lock()
		sess := g.sess
		g.mu.Unlock()
		if sess != nil {
			_ = sess.Stop()
		}
	})
	return g
}

func TestHandleRoot(t *testing.T) {
	requirePython(t)
	cfg := config.Config{WorkdirBase: t.TempDir()}
	g := New(cfg, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleExecStreamsChunks(t *testing.T) {
	g := newTestGateway(t)
	body := bytes.NewBufferString(`{"code":"print('hi')","kernel":"interp"}`)
	req := httptest.NewRequest(http.MethodPost, "/exec", body)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got == "" || !bytes.Contains(rec.Body.Bytes(), []byte("hi")) {
		t.Fatalf("expected output to contain hi, got %q", got)
	}
}

func TestHandleUploadDownloadRoundTrip(t *testing.T) {
	g := newTestGateway(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "hello.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte("hello world"))
	mw.Close()

	uploadReq := httptest.NewRequest(http.MethodPost, "/files/upload", &buf)
	uploadReq.Header.Set("Content-Type", mw.FormDataContentType())
	uploadRec := httptest.NewRecorder()
	g.Mux().ServeHTTP(uploadRec, uploadReq)
	if uploadRec.Code != http.StatusOK {
		t.Fatalf("upload status = %d body=%s", uploadRec.Code, uploadRec.Body.String())
	}

	downReq := httptest.NewRequest(http.MethodGet, "/files/download/hello.txt", nil)
	downReq.SetPathValue("name", "hello.txt")
	downRec := httptest.NewRecorder()
	g.Mux().ServeHTTP(downRec, downReq)
	if downRec.Code != http.StatusOK {
		t.Fatalf("download status = %d", downRec.Code)
	}
	if downRec.Body.String() != "hello world" {
		t.Fatalf("download body = %q, want %q", downRec.Body.String(), "hello world")
	}
}

func TestHandleDownloadMissing(t *testing.T) {
	g := newTestGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/files/download/nope.txt", nil)
	req.SetPathValue("name", "nope.txt")
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleLegacyExecute(t *testing.T) {
	g := newTestGateway(t)
	body := bytes.NewBufferString(`{"properties":{"code":"1 + 1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/code/execute", body)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp legacyExecuteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Properties.Result != "2" {
		t.Fatalf("result = %q, want 2", resp.Properties.Result)
	}
	if resp.Properties.Stdout != "2" {
		t.Fatalf("stdout = %q, want 2", resp.Properties.Stdout)
	}
	if len(resp.Properties.Stderr) != 0 {
		t.Fatalf("stderr = %v, want empty", resp.Properties.Stderr)
	}
}

// TestHandleLegacyExecuteMultiLine guards against result/stdout diverging:
// a single-line case can't distinguish "last line" from "whole text", and
// the deprecated wire shape requires result and stdout carry the same value.
func TestHandleLegacyExecuteMultiLine(t *testing.T) {
	g := newTestGateway(t)
	body := bytes.NewBufferString(`{"properties":{"code":"print('one')\nprint('two')"}}`)
	req := httptest.NewRequest(http.MethodPost, "/code/execute", body)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp legacyExecuteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := "one\ntwo\n"
	if resp.Properties.Stdout != want {
		t.Fatalf("stdout = %q, want %q", resp.Properties.Stdout, want)
	}
	if resp.Properties.Result != resp.Properties.Stdout {
		t.Fatalf("result = %q must equal stdout = %q", resp.Properties.Result, resp.Properties.Stdout)
	}
}

func TestHandleDebugEventsNilTrail(t *testing.T) {
	g := newTestGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/events", nil)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var events []audit.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events with a nil trail, got %d", len(events))
	}
}

func TestHandleDebugEventsRecordsExec(t *testing.T) {
	requirePython(t)
	trail, err := audit.Open(":memory:")
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { trail.Close() })

	cfg := config.Config{WorkdirBase: t.TempDir(), IdleTimeout: time.Hour, IdleTimeoutRaw: "60"}
	g := New(cfg, trail)
	t.Cleanup(func() {
		g.mu.Lock()
		sess := g.sess
		g.mu.Unlock()
		if sess != nil {
			_ = sess.Stop()
		}
	})

	body := bytes.NewBufferString(`{"code":"1 + 1","kernel":"interp"}`)
	req := httptest.NewRequest(http.MethodPost, "/exec", body)
	rec := httptest.NewRecorder()
	g.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("exec status = %d body=%s", rec.Code, rec.Body.String())
	}

	eventsReq := httptest.NewRequest(http.MethodGet, "/debug/events", nil)
	eventsRec := httptest.NewRecorder()
	g.Mux().ServeHTTP(eventsRec, eventsReq)
	if eventsRec.Code != http.StatusOK {
		t.Fatalf("debug/events status = %d", eventsRec.Code)
	}
	var events []audit.Event
	if err := json.Unmarshal(eventsRec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one recorded event")
	}
}

func TestIdleTimerExitsAfterTimeout(t *testing.T) {
	requirePython(t)
	cfg := config.Config{
		WorkdirBase:    t.TempDir(),
		IdleTimeout:    10 * time.Millisecond,
		IdleTimeoutRaw: "1",
	}
	g := New(cfg, nil)
	exited := make(chan int, 1)
	g.idleExit = func(code int) { exited <- code }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.RunIdleTimer(ctx)

	select {
	case code := <-exited:
		if code != 0 {
			t.Fatalf("exit code = %d, want 0", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle timer never fired")
	}
}
