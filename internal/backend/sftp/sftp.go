package sftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"sort"

	"github.com/pkg/sftp"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/backend/sema"
	"github.com/arnegard/netbase/internal/debug"
	"github.com/arnegard/netbase/internal/errors"
)

// SFTP is a backend.Store reached over an SFTP connection started by
// exec'ing the local "ssh" binary, exactly as restic's sftp backend does.
type SFTP struct {
	c *sftp.Client

	cmd    *exec.Cmd
	result <-chan error

	posixRename bool

	sem sema.Semaphore
	Config
}

var _ backend.Store = &SFTP{}
var _ backend.Connections = &SFTP{}

func startClient(cfg Config) (*SFTP, error) {
	args := []string{cfg.Host}
	if cfg.Port != "" {
		args = append(args, "-p", cfg.Port)
	}
	if cfg.User != "" {
		args = append(args, "-l", cfg.User)
	}
	args = append(args, "-s", "sftp")

	debug.Log("backend", "starting ssh %v", args)
	cmd := exec.Command("ssh", args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StderrPipe")
	}
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			fmt.Fprintf(os.Stderr, "sftp subprocess: %v\n", sc.Text())
		}
	}()

	wr, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StdinPipe")
	}
	rd, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "cmd.StdoutPipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "cmd.Start")
	}

	ch := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		debug.Log("backend", "ssh command exited: %v", err)
		ch <- errors.Wrap(err, "ssh command exited")
	}()

	client, err := sftp.NewClientPipe(rd, wr)
	if err != nil {
		return nil, errors.Errorf("unable to start the sftp session: %v", err)
	}

	_, posixRename := client.HasExtension("posix-rename@openssh.com")
	return &SFTP{c: client, cmd: cmd, result: ch, posixRename: posixRename}, nil
}

// Open connects to an sftp server as described by cfg by running the local
// "ssh" binary and speaking the sftp subsystem protocol over its pipes.
func Open(_ context.Context, cfg Config) (*SFTP, error) {
	debug.Log("backend", "open sftp backend with config %#v", cfg)

	s, err := startClient(cfg)
	if err != nil {
		return nil, err
	}

	conns := cfg.Connections
	if conns == 0 {
		conns = 5
	}
	sem, err := sema.New(conns)
	if err != nil {
		return nil, err
	}

	if err := s.c.MkdirAll(cfg.Path); err != nil {
		return nil, errors.Wrap(err, "MkdirAll")
	}

	s.Config = cfg
	s.sem = sem
	return s, nil
}

// clientError returns a permanent error if the ssh subprocess has already
// exited, so callers stop retrying against a dead connection.
func (r *SFTP) clientError() error {
	select {
	case err := <-r.result:
		return err
	default:
		return nil
	}
}

func (r *SFTP) filename(name string) string {
	return path.Join(r.Path, name)
}

func (r *SFTP) Connections() uint { return r.Config.Connections }

func (r *SFTP) IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// Create opens name for writing, truncating any previous content and
// creating missing parent directories. It writes to name directly (there
// is no temp file or rename), so a concurrent reader can observe a
// partially written file.
func (r *SFTP) Create(_ context.Context, name string) (io.WriteCloser, error) {
	if err := r.clientError(); err != nil {
		return nil, err
	}

	fn := r.filename(name)
	r.sem.GetToken()

	f, err := r.c.OpenFile(fn, os.O_CREATE|os.O_TRUNC|os.O_WRONLY)
	if r.IsNotExist(err) {
		if mkErr := r.c.MkdirAll(path.Dir(fn)); mkErr == nil {
			f, err = r.c.OpenFile(fn, os.O_CREATE|os.O_TRUNC|os.O_WRONLY)
		}
	}
	if err != nil {
		r.sem.ReleaseToken()
		return nil, errors.Wrap(err, "OpenFile")
	}

	return &releaseOnClose{File: f, sem: r.sem}, nil
}

func (r *SFTP) OpenAppend(_ context.Context, name string) (io.WriteCloser, error) {
	if err := r.clientError(); err != nil {
		return nil, err
	}

	r.sem.GetToken()
	f, err := r.c.OpenFile(r.filename(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY)
	if err != nil {
		r.sem.ReleaseToken()
		return nil, errors.Wrap(err, "OpenFile")
	}
	return &releaseOnClose{File: f, sem: r.sem}, nil
}

type releaseOnClose struct {
	*sftp.File
	sem sema.Semaphore
}

func (rc *releaseOnClose) Close() error {
	err := rc.File.Close()
	rc.sem.ReleaseToken()
	return errors.WithStack(err)
}

func (r *SFTP) OpenRead(_ context.Context, name string) (io.ReadCloser, error) {
	if err := r.clientError(); err != nil {
		return nil, err
	}

	r.sem.GetToken()
	f, err := r.c.Open(r.filename(name))
	if err != nil {
		r.sem.ReleaseToken()
		if r.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, "Open")
	}
	return &releaseOnClose{File: f, sem: r.sem}, nil
}

func (r *SFTP) Size(_ context.Context, name string) (int64, error) {
	r.sem.GetToken()
	defer r.sem.ReleaseToken()

	fi, err := r.c.Lstat(r.filename(name))
	if err != nil {
		return 0, errors.Wrap(err, "Lstat")
	}
	return fi.Size(), nil
}

func (r *SFTP) List(_ context.Context, prefix string) ([]string, error) {
	r.sem.GetToken()
	defer r.sem.ReleaseToken()

	entries, err := r.c.ReadDir(r.Path)
	if err != nil {
		if r.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "ReadDir(%v)", r.Path)
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

func (r *SFTP) Remove(_ context.Context, name string) error {
	r.sem.GetToken()
	defer r.sem.ReleaseToken()

	err := r.c.Remove(r.filename(name))
	if err != nil && !r.IsNotExist(err) {
		return errors.Wrap(err, "Remove")
	}
	return nil
}

// Rename prefers the posix-rename@openssh.com extension, which replaces
// newName atomically; plain SFTP rename fails if newName already exists.
func (r *SFTP) Rename(_ context.Context, oldName, newName string) error {
	r.sem.GetToken()
	defer r.sem.ReleaseToken()

	oldFn, newFn := r.filename(oldName), r.filename(newName)
	var err error
	if r.posixRename {
		err = r.c.PosixRename(oldFn, newFn)
	} else {
		_ = r.c.Remove(newFn)
		err = r.c.Rename(oldFn, newFn)
	}
	return errors.Wrap(err, "Rename")
}

func (r *SFTP) Close() error {
	if r.c != nil {
		_ = r.c.Close()
	}
	if r.cmd != nil && r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	return nil
}
