package client

import (
	"context"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/kernel"
	"github.com/ehrlich-b/codeboxd/internal/session"
	"github.com/ehrlich-b/codeboxd/internal/workdir"
)

// localBackend embeds the engine directly in this process, going through
// the in-process singleton Session rather than HTTP (spec §4.6's "embeds an
// engine directly" factory option).
type localBackend struct {
	sess *session.Session
}

func newLocalBackend(cfg Config) (Backend, error) {
	root := cfg.WorkdirBase
	if root == "" {
		root = "./.codebox"
	}
	sess, err := session.NewLocal(context.Background(), root)
	if err != nil {
		return nil, err
	}
	return &localBackend{sess: sess}, nil
}

func (b *localBackend) Exec(ctx context.Context, code string, kind kernel.Kind, timeout time.Duration, cwd string) (*ExecStream, error) {
	kstream, err := b.sess.Exec(ctx, code, kind, timeout, cwd)
	if err != nil {
		return nil, err
	}
	out := newExecStream(ctx)
	go func() {
		for {
			c, ok := kstream.Next()
			if !ok {
				break
			}
			out.send(c)
		}
		out.close(kstream.Err())
	}()
	return out, nil
}

func (b *localBackend) Upload(ctx context.Context, name string, data []byte, timeout time.Duration) (workdir.RemoteFile, error) {
	return b.sess.Upload(name, data, timeout)
}

func (b *localBackend) Download(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	out, errc := b.sess.Download(name, timeout)
	var data []byte
	for block := range out {
		data = append(data, block...)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return data, nil
}

func (b *localBackend) List(ctx context.Context) ([]workdir.RemoteFile, error) {
	return b.sess.List()
}

func (b *localBackend) Restart(ctx context.Context) error {
	return b.sess.Restart(ctx)
}

func (b *localBackend) Close() error {
	return b.sess.Stop()
}
