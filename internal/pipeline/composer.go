// Package pipeline composes the shell pipelines that move bytes from a
// source host to a target host: a head producer, zero or more optional
// stages (compress, encrypt, parallel checksum, network transport), and
// a terminal consumer. Fragments are assembled as a slice of already-
// piped strings (each optional fragment supplies its own leading "| ")
// and joined with plain spaces, so a disabled stage simply contributes
// nothing to the slice instead of leaving a dangling pipe.
package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/opsmesh/transferctl/internal/config"
	"github.com/opsmesh/transferctl/internal/xerr"
)

// BuildInput carries everything the composer needs to render both
// sides of one target's pipeline. A single BuildInput is built per
// target by the Transfer Supervisor.
type BuildInput struct {
	Mode    config.Mode
	Compress bool
	Encrypt  bool
	// Password is the shared passphrase used for the encrypt/decrypt
	// stage. Required iff Encrypt is set.
	Password string

	// SourceIsDir distinguishes a directory source (archived with tar)
	// from a regular file source (streamed raw) in ModeFile. Ignored
	// for ModeXtrabackup and ModeDecompress.
	SourceIsDir bool

	SourcePath string
	TargetPath string
	TargetHost string
	Port       int

	ParallelChecksum           bool
	ParallelChecksumSourcePath string
	ParallelChecksumTargetPath string

	// MySQLUser and Parallel configure ModeXtrabackup's snapshot
	// command. MySQLUser defaults to "root", Parallel to 16.
	MySQLUser string
	Parallel  int
}

// Rendered holds one side of a composed pipeline, ready to hand to a
// RemoteExecutor as argv.
type Rendered struct {
	Argv []string
	// Script is the full shell command line, exposed for logging at
	// verbose level (the session password, if any, is never logged
	// even then — callers must redact it separately).
	Script string
}

func bashScript(script string) Rendered {
	return Rendered{Argv: []string{"/bin/bash", "-c", script}, Script: script}
}

func join(frags ...string) string {
	out := ""
	for _, f := range frags {
		if f == "" {
			continue
		}
		if out == "" {
			out = f
			continue
		}
		out += " " + f
	}
	return out
}

// BuildSource renders the producer-side pipeline: the head, plus any of
// compress/encrypt/parallel-checksum/network-send that apply.
func BuildSource(in BuildInput) (Rendered, error) {
	head, err := sourceHead(in)
	if err != nil {
		return Rendered{}, err
	}

	// A decompress-mode head already streams a compressed archive, so the
	// source side does not compress it again; the target's decompress
	// stage still follows Compress.
	compress := ""
	if in.Compress && in.Mode != config.ModeDecompress {
		compress = "| pigz -c"
	}

	encrypt := ""
	if in.Encrypt {
		if in.Password == "" {
			return Rendered{}, xerr.Errorf(xerr.KindConfiguration, "encrypt requested without a session password")
		}
		encrypt = fmt.Sprintf("| /usr/bin/openssl enc -aes-256-cbc -pbkdf2 -salt -pass pass:%s", in.Password)
	}

	checksum := ""
	if in.ParallelChecksum {
		if in.ParallelChecksumSourcePath == "" {
			return Rendered{}, xerr.Errorf(xerr.KindConfiguration, "parallel checksum requested without a source digest path")
		}
		checksum = fmt.Sprintf("| tee >(md5sum > %q)", in.ParallelChecksumSourcePath)
	}

	if in.Port <= 0 {
		return Rendered{}, xerr.Errorf(xerr.KindConfiguration, "source pipeline requires a nonzero port")
	}
	send := fmt.Sprintf("| /bin/nc -q 0 -w 300 %s %d", in.TargetHost, in.Port)

	return bashScript(join(head, compress, encrypt, checksum, send)), nil
}

func sourceHead(in BuildInput) (string, error) {
	switch in.Mode {
	case config.ModeFile:
		if in.SourceIsDir {
			dir, base := filepath.Split(filepath.Clean(in.SourcePath))
			if dir == "" {
				dir = "."
			}
			return fmt.Sprintf("/bin/tar cf - -C %q %q", dir, base), nil
		}
		return fmt.Sprintf("/bin/cat %q", in.SourcePath), nil
	case config.ModeXtrabackup:
		return XtrabackupCommand(in.SourcePath, in.MySQLUser, in.Parallel)
	case config.ModeDecompress:
		return fmt.Sprintf("/bin/cat %q", in.SourcePath), nil
	default:
		return "", xerr.Errorf(xerr.KindConfiguration, "unknown mode %q", in.Mode)
	}
}

// BuildTarget renders the consumer-side pipeline: network listen, plus
// any of parallel-checksum/decrypt/decompress, then the terminal
// consumer that lands bytes on disk.
func BuildTarget(in BuildInput) (Rendered, error) {
	if in.Port <= 0 {
		return Rendered{}, xerr.Errorf(xerr.KindConfiguration, "target pipeline requires a nonzero port")
	}
	listen := fmt.Sprintf("/bin/nc -l -w 300 -p %d", in.Port)

	checksum := ""
	if in.ParallelChecksum {
		if in.ParallelChecksumTargetPath == "" {
			return Rendered{}, xerr.Errorf(xerr.KindConfiguration, "parallel checksum requested without a target digest path")
		}
		checksum = fmt.Sprintf("| tee >(md5sum > %q)", in.ParallelChecksumTargetPath)
	}

	decrypt := ""
	if in.Encrypt {
		if in.Password == "" {
			return Rendered{}, xerr.Errorf(xerr.KindConfiguration, "decrypt requested without a session password")
		}
		decrypt = fmt.Sprintf("| /usr/bin/openssl enc -d -aes-256-cbc -pbkdf2 -pass pass:%s", in.Password)
	}

	decompress := ""
	if in.Compress {
		decompress = "| pigz -c -d"
	}

	tail, err := targetTail(in)
	if err != nil {
		return Rendered{}, err
	}

	return bashScript(join(listen, checksum, decrypt, decompress, tail)), nil
}

// targetTail renders the terminal consumer. For a regular-file source
// this is a plain redirect rather than a piped command, matching the
// source-side byte-copy head — neither side invokes tar.
func targetTail(in BuildInput) (string, error) {
	switch in.Mode {
	case config.ModeFile:
		if in.SourceIsDir {
			return fmt.Sprintf("| /bin/tar xf - -C %q", in.TargetPath), nil
		}
		return fmt.Sprintf("> %q", in.TargetPath), nil
	case config.ModeXtrabackup:
		return fmt.Sprintf("| mbstream -x -C %q", in.TargetPath), nil
	case config.ModeDecompress:
		return fmt.Sprintf("| /bin/tar --strip-components=1 -xf - -C %q", in.TargetPath), nil
	default:
		return "", xerr.Errorf(xerr.KindConfiguration, "unknown mode %q", in.Mode)
	}
}
