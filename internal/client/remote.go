package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/chunk"
	"github.com/ehrlich-b/codeboxd/internal/kernel"
	"github.com/ehrlich-b/codeboxd/internal/workdir"
)

// remoteRetryBase/Max/Attempts implement spec §6's client retry policy for
// HTTP 502 from the gateway: exponential backoff 5s -> 150s, factor 2, max
// 3 attempts.
const (
	remoteRetryBase     = 5 * time.Second
	remoteRetryFactor   = 2
	remoteRetryAttempts = 3
)

// remoteBackend talks to a Session Gateway over HTTP, optionally wrapped by
// the multi-tenant `/codebox/{session_id}` prefix with Authorization/
// Factory-Id headers, per spec §6.
type remoteBackend struct {
	httpClient *http.Client
	baseURL    string
	sessionID  string
	apiKey     string
	factoryID  string
}

func newRemoteBackend(cfg Config) (Backend, error) {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:8080"
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &remoteBackend{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		apiKey:     cfg.APIKey,
		factoryID:  cfg.FactoryID,
	}, nil
}

// path prepends the multi-tenant wrapper when a session ID has been bound
// (spec §6: "Remote multi-tenant wrapper prepends /codebox/{session_id}").
func (b *remoteBackend) path(p string) string {
	if b.sessionID != "" {
		return b.baseURL + "/codebox/" + url.PathEscape(b.sessionID) + p
	}
	return b.baseURL + p
}

func (b *remoteBackend) setHeaders(req *http.Request) {
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	if b.factoryID != "" {
		req.Header.Set("Factory-Id", b.factoryID)
	}
}

// doWithRetry builds and issues a fresh request via newReq for each attempt
// (a retried request can't reuse a request whose body reader was already
// consumed), retrying only on HTTP 502 with exponential backoff; any other
// status or transport error is returned immediately (spec §7: only
// TransportError's 502 case is retried here).
func (b *remoteBackend) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	wait := remoteRetryBase
	var lastErr error
	for attempt := 1; attempt <= remoteRetryAttempts; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := b.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusBadGateway {
			return resp, nil
		}
		resp.Body.Close()
		lastErr = fmt.Errorf("client: gateway returned 502 (attempt %d/%d)", attempt, remoteRetryAttempts)
		if attempt == remoteRetryAttempts {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wait *= remoteRetryFactor
	}
	return nil, lastErr
}

type execRequestBody struct {
	Code           string `json:"code"`
	Kernel         string `json:"kernel"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
}

func (b *remoteBackend) Exec(ctx context.Context, code string, kind kernel.Kind, timeout time.Duration, cwd string) (*ExecStream, error) {
	body, err := json.Marshal(execRequestBody{
		Code:           code,
		Kernel:         string(kind),
		TimeoutSeconds: int(timeout / time.Second),
		Cwd:            cwd,
	})
	if err != nil {
		return nil, err
	}
	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.path("/exec"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		b.setHeaders(req)
		return req, nil
	}

	resp, err := b.doWithRetry(ctx, buildReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("client: exec failed: %s: %s", resp.Status, msg)
	}

	stream := newExecStream(ctx)
	go func() {
		defer resp.Body.Close()
		dec := chunk.NewDecoder()
		buf := make([]byte, 4096)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				for _, c := range dec.Feed(buf[:n]) {
					stream.send(c)
				}
			}
			if rerr == io.EOF {
				stream.close(nil)
				return
			}
			if rerr != nil {
				stream.close(rerr)
				return
			}
		}
	}()
	return stream, nil
}

func (b *remoteBackend) Upload(ctx context.Context, name string, data []byte, timeout time.Duration) (workdir.RemoteFile, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return workdir.RemoteFile{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return workdir.RemoteFile{}, err
	}
	if err := mw.Close(); err != nil {
		return workdir.RemoteFile{}, err
	}

	target := b.path("/files/upload")
	if timeout > 0 {
		target += "?timeout=" + strconv.Itoa(int(timeout/time.Second))
	}
	bodyBytes := buf.Bytes()
	contentType := mw.FormDataContentType()
	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		b.setHeaders(req)
		return req, nil
	}

	resp, err := b.doWithRetry(ctx, buildReq)
	if err != nil {
		return workdir.RemoteFile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return workdir.RemoteFile{}, fmt.Errorf("client: upload failed: %s: %s", resp.Status, msg)
	}
	var rf workdir.RemoteFile
	if err := json.NewDecoder(resp.Body).Decode(&rf); err != nil {
		return workdir.RemoteFile{}, err
	}
	return rf, nil
}

func (b *remoteBackend) Download(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	target := b.path("/files/download/" + name)
	if timeout > 0 {
		target += "?timeout=" + strconv.Itoa(int(timeout/time.Second))
	}
	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		b.setHeaders(req)
		return req, nil
	}

	resp, err := b.doWithRetry(ctx, buildReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, workdir.ErrFileNotFound
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("client: download failed: %s: %s", resp.Status, msg)
	}
	return io.ReadAll(resp.Body)
}

func (b *remoteBackend) List(ctx context.Context) ([]workdir.RemoteFile, error) {
	stream, err := b.Exec(ctx, "find . -type f -exec du -h {} + | awk '{print $2, $1}' | sort", kernel.Shell, 30*time.Second, "")
	if err != nil {
		return nil, err
	}
	result, err := stream.Collect()
	if err != nil {
		return nil, err
	}
	return parseListFilesOutput(result.Text), nil
}

func (b *remoteBackend) Restart(ctx context.Context) error {
	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.path("/restart"), nil)
		if err != nil {
			return nil, err
		}
		b.setHeaders(req)
		return req, nil
	}
	resp, err := b.doWithRetry(ctx, buildReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("client: restart failed: %s: %s", resp.Status, msg)
	}
	return nil
}

func (b *remoteBackend) Close() error {
	return nil
}
