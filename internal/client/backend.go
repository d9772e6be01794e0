package client

import (
	"context"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/kernel"
	"github.com/ehrlich-b/codeboxd/internal/workdir"
)

// Backend is the shared surface every engine flavor implements, so the
// Client built on top of one never branches on which kind it holds.
type Backend interface {
	Exec(ctx context.Context, code string, kind kernel.Kind, timeout time.Duration, cwd string) (*ExecStream, error)
	Upload(ctx context.Context, name string, data []byte, timeout time.Duration) (workdir.RemoteFile, error)
	Download(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
	List(ctx context.Context) ([]workdir.RemoteFile, error)
	Restart(ctx context.Context) error
	Close() error
}

// Config selects and parameterizes a Backend. APIKey is the factory
// sentinel: "local" and "docker" pick their matching in-process/container
// backend; anything else (including empty) is treated as a bearer token for
// the remote backend, per spec §4.6's factory rule.
type Config struct {
	APIKey      string
	FactoryID   string
	BaseURL     string
	WorkdirBase string
	Container   string
	HTTPTimeout time.Duration
}

// New picks a backend per the factory rule: {"local", "docker", else-remote}.
func New(cfg Config) (Backend, error) {
	switch cfg.APIKey {
	case "local":
		return newLocalBackend(cfg)
	case "docker":
		return newDockerBackend(cfg)
	default:
		return newRemoteBackend(cfg)
	}
}
