// Package probes implements the Endpoint Probes: deterministic,
// single-command checks of remote host/file/socket/directory state,
// disk usage, and checksums, each composed as one command sent through
// a RemoteExecutor.
package probes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opsmesh/transferctl/internal/executor"
)

// Probes bundles a RemoteExecutor so probe methods read naturally as
// probes.HostExists(ctx, host) instead of threading the executor through
// every call site.
type Probes struct {
	Exec executor.RemoteExecutor
}

func New(exec executor.RemoteExecutor) *Probes {
	return &Probes{Exec: exec}
}

func bash(script string) []string {
	return []string{"/bin/bash", "-c", script}
}

// HostExists succeeds trivially when the command channel to host works —
// it says nothing about source_path, only reachability.
func (p *Probes) HostExists(ctx context.Context, host string) bool {
	res, err := p.Exec.Run(ctx, host, []string{"/bin/true"})
	return err == nil && res.ExitCode == 0
}

// FileExists tests existence of any filesystem entry at path.
func (p *Probes) FileExists(ctx context.Context, host, path string) bool {
	return p.testExpr(ctx, host, "-a", path)
}

// IsDir tests that path is a directory.
func (p *Probes) IsDir(ctx context.Context, host, path string) bool {
	return p.testExpr(ctx, host, "-d", path)
}

// IsSocket tests that path is a socket.
func (p *Probes) IsSocket(ctx context.Context, host, path string) bool {
	return p.testExpr(ctx, host, "-S", path)
}

func (p *Probes) testExpr(ctx context.Context, host, flag, path string) bool {
	script := fmt.Sprintf("[ %s %q ]", flag, path)
	res, err := p.Exec.Run(ctx, host, bash(script))
	return err == nil && res.ExitCode == 0
}

// DirIsEmpty is true iff dir has no entries.
func (p *Probes) DirIsEmpty(ctx context.Context, host, dir string) bool {
	script := fmt.Sprintf(`[ -z "$(/bin/ls -A %q)" ]`, dir)
	res, err := p.Exec.Run(ctx, host, bash(script))
	return err == nil && res.ExitCode == 0
}

// DiskUsage returns the byte size of path (du-equivalent, block size 1).
func (p *Probes) DiskUsage(ctx context.Context, host, path string) (int64, error) {
	script := fmt.Sprintf("/usr/bin/du -sb %q", path)
	res, err := p.Exec.Run(ctx, host, bash(script))
	if err != nil {
		return 0, fmt.Errorf("disk_usage on %s:%s: %w", host, path, err)
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("disk_usage on %s:%s: exit %d: %s", host, path, res.ExitCode, res.Stderr)
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return 0, fmt.Errorf("disk_usage on %s:%s: empty output", host, path)
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("disk_usage on %s:%s: parsing %q: %w", host, path, fields[0], err)
	}
	return size, nil
}

// HasAvailableDiskSpace is true when the free bytes available at path on
// host is strictly greater than size.
func (p *Probes) HasAvailableDiskSpace(ctx context.Context, host, path string, size int64) (bool, error) {
	script := fmt.Sprintf("/bin/df -B1 --output=avail %q | tail -n1", path)
	res, err := p.Exec.Run(ctx, host, bash(script))
	if err != nil {
		return false, fmt.Errorf("has_available_disk_space on %s:%s: %w", host, path, err)
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("has_available_disk_space on %s:%s: exit %d: %s", host, path, res.ExitCode, res.Stderr)
	}
	avail, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return false, fmt.Errorf("has_available_disk_space on %s:%s: parsing %q: %w", host, path, res.Stdout, err)
	}
	return avail > size, nil
}

// CalculateChecksum computes a lowercase hex digest. File mode hashes
// the bytes directly; directory mode hashes a sorted recursive listing
// of (relative path, content hash) so two independent runs over the
// same directory contents agree regardless of traversal order.
func (p *Probes) CalculateChecksum(ctx context.Context, host, path string, isDir bool) (string, error) {
	var script string
	if isDir {
		script = fmt.Sprintf(
			`cd %q && find . -type f | LC_ALL=C sort | xargs -I{} md5sum {} | md5sum`,
			path,
		)
	} else {
		script = fmt.Sprintf("md5sum %q", path)
	}

	res, err := p.Exec.Run(ctx, host, bash(script))
	if err != nil {
		return "", fmt.Errorf("calculate_checksum on %s:%s: %w", host, path, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("calculate_checksum on %s:%s: exit %d: %s", host, path, res.ExitCode, res.Stderr)
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "", fmt.Errorf("calculate_checksum on %s:%s: empty output", host, path)
	}
	return fields[0], nil
}

// PortInUse reports whether something is already listening on port on
// host. Implements portalloc.PortChecker.
func (p *Probes) PortInUse(ctx context.Context, host string, port int) (bool, error) {
	script := fmt.Sprintf("/sbin/ss -H -ltn sport = :%d | /usr/bin/grep -q .", port)
	res, err := p.Exec.Run(ctx, host, bash(script))
	if err != nil {
		return false, fmt.Errorf("port_in_use on %s:%d: %w", host, port, err)
	}
	return res.ExitCode == 0, nil
}

// ReadChecksum reads a stored digest file and returns its first
// whitespace-delimited token (the digest, ignoring any trailing
// filename md5sum appends).
func (p *Probes) ReadChecksum(ctx context.Context, host, path string) (string, error) {
	script := fmt.Sprintf("/bin/cat < %q", path)
	res, err := p.Exec.Run(ctx, host, bash(script))
	if err != nil {
		return "", fmt.Errorf("read_checksum on %s:%s: %w", host, path, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("read_checksum on %s:%s: exit %d: %s", host, path, res.ExitCode, res.Stderr)
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "", fmt.Errorf("read_checksum on %s:%s: empty output", host, path)
	}
	return fields[0], nil
}
