// Package gateway implements the Session Gateway (C4): the HTTP front door
// for one host-side Session instance, serving exec/upload/download over the
// wire format in internal/chunk and owning the idle-shutdown timer.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/audit"
	"github.com/ehrlich-b/codeboxd/internal/config"
	"github.com/ehrlich-b/codeboxd/internal/logger"
	"github.com/ehrlich-b/codeboxd/internal/session"
)

// Gateway serves HTTP for exactly one in-process Session, created lazily on
// first request per spec §3's session lifecycle.
type Gateway struct {
	cfg   config.Config
	trail *audit.Trail

	mu       sync.Mutex
	sess     *session.Session
	bootTime time.Time
	idleExit func(code int)
}

// New constructs a Gateway. trail may be nil to disable the audit mirror
// entirely.
func New(cfg config.Config, trail *audit.Trail) *Gateway {
	return &Gateway{
		cfg:      cfg,
		trail:    trail,
		bootTime: time.Now(),
		idleExit: func(code int) { osExit(code) },
	}
}

// ensureSession lazily constructs the gateway's singleton local session.
func (g *Gateway) ensureSession(ctx context.Context) (*session.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess != nil {
		return g.sess, nil
	}
	sess, err := session.NewLocal(ctx, g.cfg.WorkdirBase)
	if err != nil {
		return nil, err
	}
	g.sess = sess
	g.trail.Record(sess.ID(), audit.Created, "")
	return sess, nil
}

// lastInteraction returns the time used for idle-shutdown comparisons: the
// session's own last-interaction time once one exists, or boot time before
// any request has arrived.
func (g *Gateway) lastInteraction() time.Time {
	g.mu.Lock()
	sess := g.sess
	g.mu.Unlock()
	if sess == nil {
		return g.bootTime
	}
	return sess.LastInteraction()
}

// Mux builds the HTTP handler for this gateway's endpoints.
func (g *Gateway) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", g.handleRoot)
	mux.HandleFunc("GET /healthz", g.handleRoot)
	mux.HandleFunc("POST /exec", g.handleExec)
	mux.HandleFunc("POST /files/upload", g.handleUpload)
	mux.HandleFunc("GET /files/download/{name...}", g.handleDownload)
	mux.HandleFunc("POST /code/execute", g.handleLegacyExecute)
	mux.HandleFunc("POST /restart", g.handleRestart)
	mux.HandleFunc("GET /debug/events", g.handleDebugEvents)
	return mux
}

// RunIdleTimer loops with a 1s tick and exits the process once the gap since
// the last interaction exceeds the configured idle timeout. Disabled when
// the configured timeout is the sentinel "none".
func (g *Gateway) RunIdleTimer(ctx context.Context) {
	if g.cfg.Disabled() {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(g.lastInteraction()) > g.cfg.IdleTimeout {
				g.mu.Lock()
				sess := g.sess
				g.mu.Unlock()
				if sess != nil {
					g.trail.Record(sess.ID(), audit.IdleEvicted, "")
					_ = sess.Stop()
				}
				logger.Info("gateway: idle timeout reached, exiting")
				g.idleExit(0)
				return
			}
		}
	}
}

// ListenAndServe serves the gateway's HTTP surface on addr until ctx is
// cancelled, then shuts down gracefully.
func (g *Gateway) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: g.Mux()}

	go g.RunIdleTimer(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		g.mu.Lock()
		sess := g.sess
		g.mu.Unlock()
		if sess != nil {
			_ = sess.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
