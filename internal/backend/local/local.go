package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/backend/sema"
	"github.com/arnegard/netbase/internal/debug"
	"github.com/arnegard/netbase/internal/errors"
)

// Local is a backend.Store backed by a directory on the local filesystem.
type Local struct {
	Config
	sem sema.Semaphore
}

var _ backend.Store = &Local{}

// Open opens (and creates, if necessary) a local directory backend.
func Open(cfg Config) (*Local, error) {
	if err := os.MkdirAll(cfg.Path, 0700); err != nil {
		return nil, errors.WithStack(err)
	}
	conns := cfg.Connections
	if conns == 0 {
		conns = 2
	}
	sem, err := sema.New(conns)
	if err != nil {
		return nil, err
	}
	debug.Log("backend", "opened local backend at %v", cfg.Path)
	return &Local{Config: cfg, sem: sem}, nil
}

func (b *Local) filename(name string) string {
	return filepath.Join(b.Path, name)
}

func (b *Local) Connections() uint { return b.Config.Connections }

// Create opens name for writing, truncating any previous content.
func (b *Local) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	fn := b.filename(name)
	if err := os.MkdirAll(filepath.Dir(fn), 0700); err != nil {
		return nil, errors.WithStack(err)
	}

	b.sem.GetToken()
	f, err := os.OpenFile(fn, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		b.sem.ReleaseToken()
		return nil, errors.WithStack(err)
	}
	debug.Log("backend", "created %v", fn)
	return b.limited(ctx, &releaseOnClose{File: f, sem: b.sem}), nil
}

// OpenAppend opens an existing name for writing at its current end of file.
func (b *Local) OpenAppend(ctx context.Context, name string) (io.WriteCloser, error) {
	fn := b.filename(name)
	b.sem.GetToken()
	f, err := os.OpenFile(fn, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		b.sem.ReleaseToken()
		return nil, errors.WithStack(err)
	}
	return b.limited(ctx, &releaseOnClose{File: f, sem: b.sem}), nil
}

// limited wraps w with the configured upload limiter, if any.
func (b *Local) limited(ctx context.Context, w io.WriteCloser) io.WriteCloser {
	if b.UploadLimiter == nil {
		return w
	}
	return &limitedWriter{WriteCloser: w, ctx: ctx, limiter: b.UploadLimiter}
}

// limitedWriter throttles Write calls against a shared rate.Limiter, the
// same role the teacher's transfer limiter plays around backend uploads.
type limitedWriter struct {
	io.WriteCloser
	ctx     context.Context
	limiter *rate.Limiter
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	burst := w.limiter.Burst()
	var written int
	for len(p) > 0 {
		chunk := len(p)
		if burst > 0 && chunk > burst {
			chunk = burst
		}
		if err := w.limiter.WaitN(w.ctx, chunk); err != nil {
			return written, errors.WithStack(err)
		}
		n, err := w.WriteCloser.Write(p[:chunk])
		written += n
		if err != nil {
			return written, errors.WithStack(err)
		}
		p = p[chunk:]
	}
	return written, nil
}

type releaseOnClose struct {
	*os.File
	sem sema.Semaphore
}

func (r *releaseOnClose) Close() error {
	err := r.File.Close()
	r.sem.ReleaseToken()
	return errors.WithStack(err)
}

// OpenRead opens name for reading from the start. The returned ReadCloser
// is an *os.File and therefore also satisfies io.Seeker.
func (b *Local) OpenRead(_ context.Context, name string) (io.ReadCloser, error) {
	b.sem.GetToken()
	f, err := os.Open(b.filename(name))
	if err != nil {
		b.sem.ReleaseToken()
		if b.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.WithStack(err)
	}
	return &releaseOnClose{File: f, sem: b.sem}, nil
}

func (b *Local) Size(_ context.Context, name string) (int64, error) {
	fi, err := os.Stat(b.filename(name))
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return fi.Size(), nil
}

func (b *Local) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(b.Path)
	if err != nil {
		if b.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if len(n) >= len(prefix) && n[:len(prefix)] == prefix {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *Local) Remove(_ context.Context, name string) error {
	err := os.Remove(b.filename(name))
	if err != nil && !b.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

// Rename atomically replaces newName with oldName's content, retrying
// failures up to 3 times with exponential backoff. ENOSPC and permission
// errors are treated as permanent and are not retried.
func (b *Local) Rename(ctx context.Context, oldName, newName string) error {
	op := func() error {
		err := os.Rename(b.filename(oldName), b.filename(newName))
		if err != nil && (errors.Is(err, syscall.ENOSPC) || os.IsPermission(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (b *Local) IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func (b *Local) Close() error { return nil }
