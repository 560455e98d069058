package sftp

import (
	"net/url"
	"path"
	"strings"

	"github.com/arnegard/netbase/internal/errors"
)

// Config collects the information required to connect to an sftp server.
type Config struct {
	User, Host, Port, Path string

	// Connections bounds concurrent sftp operations.
	Connections uint
}

// NewConfig returns a Config with the teacher's default connection limit.
func NewConfig() Config {
	return Config{Connections: 5}
}

// ParseConfig parses sftp://user@host[:port]/directory. The directory is
// path-Cleaned and may be absolute if it starts with a second slash, e.g.
// sftp://user@host//absolute.
func ParseConfig(s string) (Config, error) {
	if !strings.HasPrefix(s, "sftp://") {
		return Config{}, errors.New(`invalid format, does not start with "sftp://"`)
	}

	u, err := url.Parse(s)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}

	dir := u.Path
	if dir == "" {
		return Config{}, errors.Errorf("invalid backend %q, no directory specified", s)
	}

	cfg := NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
	}
	cfg.Host = u.Hostname()
	cfg.Port = u.Port()
	cfg.Path = path.Clean(dir[1:])
	return cfg, nil
}
