package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/opsmesh/transferctl/internal/xerr"
)

// DefaultDataDir is the data directory used when the socket path is the
// unadorned default instance's mysqld.sock.
const DefaultDataDir = "/srv/sqldata"

// DefaultMySQLUser is used when no user is configured for the snapshot.
const DefaultMySQLUser = "root"

// DefaultParallelism is the snapshot tool's parallelism factor.
const DefaultParallelism = 16

var instanceSocketPattern = regexp.MustCompile(`^.*\.mysqld\.s(\d+)\.sock$`)

// DeriveDataDir derives the data directory from a hot-database socket
// path whose base name is "mysqld.sock" (default instance) or
// "<prefix>.mysqld.sN.sock" (instance N). Any other shape is a
// ConfigurationError: the caller gave a socket this system does not
// know how to map to a data directory.
func DeriveDataDir(socketPath string) (string, error) {
	base := filepath.Base(socketPath)

	if base == "mysqld.sock" {
		return DefaultDataDir, nil
	}
	if m := instanceSocketPattern.FindStringSubmatch(base); m != nil {
		return fmt.Sprintf("%s.s%s", DefaultDataDir, m[1]), nil
	}
	return "", xerr.Errorf(xerr.KindConfiguration, "socket %q does not match the default or instance naming pattern", socketPath)
}

// XtrabackupCommand composes the hot-database snapshot command that
// streams a consistent backup of socketPath's data directory to stdout
// in xbstream format.
func XtrabackupCommand(socketPath, user string, parallel int) (string, error) {
	if user == "" {
		user = DefaultMySQLUser
	}
	if parallel <= 0 {
		parallel = DefaultParallelism
	}

	datadir, err := DeriveDataDir(socketPath)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"xtrabackup --backup --target-dir /tmp --user %s --socket=%s --close-files --datadir=%s --parallel=%d --stream=xbstream --slave-info --skip-ssl",
		user, socketPath, datadir, parallel,
	), nil
}
