// Package config defines the closed option set a TransferSpec is built
// from, and the daemon/report/executor/resource-guard settings loaded
// from YAML for the long-running transferd binary.
package config

import (
	"fmt"
	"strings"
)

// Mode selects the pipeline family a TransferSpec composes.
type Mode string

const (
	ModeFile       Mode = "file"
	ModeXtrabackup Mode = "xtrabackup"
	ModeDecompress Mode = "decompress"
)

func (m Mode) valid() bool {
	switch m {
	case ModeFile, ModeXtrabackup, ModeDecompress:
		return true
	default:
		return false
	}
}

// Options is the closed record of recognized TransferSpec option keys.
// Every field except the xtrabackup-only MySQLUser and Parallel is one
// of the keys enumerated by the specification; the Pipeline Composer's
// decision table is exhaustive over these fields
// by construction, so an unrecognized option has nowhere to be set.
type Options struct {
	Mode             Mode
	Port             int // 0 means "allocate per target"
	Compress         bool
	Encrypt          bool
	Checksum         bool
	ParallelChecksum bool
	StopSlave        bool
	Verbose          bool

	// MySQLUser and Parallel configure ModeXtrabackup's snapshot command.
	// Ignored by every other mode. Defaulted by Normalize to "root"/16,
	// matching xtrabackup_command's own defaults in original_source.
	MySQLUser string
	Parallel  int
}

// Normalize applies the one documented mutual-exclusion rule: checksum
// wins over parallel_checksum when both are requested.
func (o *Options) Normalize() {
	if o.Checksum && o.ParallelChecksum {
		o.ParallelChecksum = false
	}
	if o.Mode == "" {
		o.Mode = ModeFile
	}
	if o.Mode == ModeXtrabackup {
		if o.MySQLUser == "" {
			o.MySQLUser = "root"
		}
		if o.Parallel <= 0 {
			o.Parallel = 16
		}
	}
}

func (o Options) validate() error {
	if !o.Mode.valid() {
		return fmt.Errorf("options.mode: unsupported mode %q", o.Mode)
	}
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("options.port: %d out of range 0..65535", o.Port)
	}
	return nil
}

// Target is one (host, path) destination of a transfer.
type Target struct {
	Host string
	Path string
}

// TransferSpec is immutable once constructed: it is consumed by exactly
// one Supervisor run and then discarded.
type TransferSpec struct {
	SourceHost string
	SourcePath string
	Targets    []Target
	Options    Options
}

// New validates and constructs a TransferSpec. Targets must be non-empty;
// Options are normalized (mutual exclusion) before being validated.
func New(sourceHost, sourcePath string, targets []Target, opts Options) (*TransferSpec, error) {
	if sourceHost == "" {
		return nil, fmt.Errorf("source host must not be empty")
	}
	if sourcePath == "" {
		return nil, fmt.Errorf("source path must not be empty")
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one target is required")
	}
	for i, t := range targets {
		if t.Host == "" || t.Path == "" {
			return nil, fmt.Errorf("target[%d]: host and path must not be empty", i)
		}
	}

	opts.Normalize()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &TransferSpec{
		SourceHost: sourceHost,
		SourcePath: sourcePath,
		Targets:    targets,
		Options:    opts,
	}, nil
}

// ParseEndpoint splits a "host:path" positional argument. Both SOURCE and
// TARGET arguments must contain exactly one colon.
func ParseEndpoint(arg string) (host, path string, err error) {
	parts := strings.Split(arg, ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("endpoint %q must be of the form host:path (exactly one colon)", arg)
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("endpoint %q: host and path must not be empty", arg)
	}
	return parts[0], parts[1], nil
}
