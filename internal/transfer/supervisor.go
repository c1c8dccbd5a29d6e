// Package transfer implements the Transfer Supervisor: the per-target
// state machine that drives sanity checks, optional replication pause,
// firewall lifecycle, listener/sender coordination, and after-transfer
// verification for one TransferSpec run.
package transfer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/opsmesh/transferctl/internal/config"
	"github.com/opsmesh/transferctl/internal/password"
	"github.com/opsmesh/transferctl/internal/pipeline"
	"github.com/opsmesh/transferctl/internal/resourceguard"
)

// Supervisor owns every collaborator a run needs and the one run-scoped
// singleton (the session password), per spec.md's design note that it
// must live on the Supervisor rather than as a package global.
type Supervisor struct {
	Exec        Executor
	Probes      Prober
	Firewall    FirewallController
	Replication ReplicationController
	Ports       PortAllocator
	Logger      *slog.Logger

	// Guard bounds how many targets run concurrently based on the
	// orchestrator host's own headroom. Nil means unbounded (every
	// target with port 0 runs concurrently).
	Guard *resourceguard.Guard

	// StartupDelay is the pause between starting the listener job and
	// launching the sender, letting the listener bind first. Defaults
	// to 3s; tests set it to 0.
	StartupDelay time.Duration

	password password.Session
}

// NewSupervisor builds a Supervisor with spec.md §5's default timing.
func NewSupervisor(exec Executor, probes Prober, fw FirewallController, repl ReplicationController, ports PortAllocator, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Exec:         exec,
		Probes:       probes,
		Firewall:     fw,
		Replication:  repl,
		Ports:        ports,
		Logger:       logger,
		StartupDelay: 3 * time.Second,
	}
}

func (s *Supervisor) logf(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Info(msg, args...)
	}
}

func (s *Supervisor) logCleanupErr(what string, err error) {
	if err != nil && s.Logger != nil {
		s.Logger.Warn("cleanup step failed", "what", what, "error", err)
	}
}

// Run drives every target of spec to completion (or failure) and
// returns a RunReport plus a summary error. The summary error is
// ErrAllTargetsFailed when every target failed, the first target
// failure's error when some succeeded and some failed, or nil when
// every target reached done.
func (s *Supervisor) Run(ctx context.Context, spec *config.TransferSpec) (RunReport, error) {
	report := RunReport{
		Mode:       spec.Options.Mode,
		SourceHost: spec.SourceHost,
		SourcePath: spec.SourcePath,
		StartedAt:  time.Now(),
	}

	runID, err := randomID()
	if err != nil {
		return report, Errorf(KindConfiguration, "generating run id: %w", err)
	}

	size, sourceIsDir, sourceChecksum, err := s.globalSanityChecks(ctx, spec)
	if err != nil {
		report.FinishedAt = time.Now()
		return report, err
	}

	replicationPaused := false
	if spec.Options.StopSlave {
		if err := s.Replication.StopReplication(ctx, spec.SourceHost); err != nil {
			report.FinishedAt = time.Now()
			return report, Errorf(KindPrecondition, "replication refused to stop on %s: %w", spec.SourceHost, err)
		}
		replicationPaused = true
	}
	report.ReplicationPaused = replicationPaused

	targets := make([]TargetReport, len(spec.Targets))
	if spec.Options.Port != 0 {
		for i, tgt := range spec.Targets {
			targets[i] = s.runTarget(ctx, spec, tgt, i, runID, size, sourceIsDir, sourceChecksum)
		}
	} else {
		parallelism := len(spec.Targets)
		if s.Guard != nil {
			parallelism = s.Guard.AllowedParallelism(len(spec.Targets))
			s.logf("resource guard bounded parallelism", "requested", len(spec.Targets), "allowed", parallelism)
		}

		sem := make(chan struct{}, parallelism)
		var wg sync.WaitGroup
		wg.Add(len(spec.Targets))
		for i, tgt := range spec.Targets {
			i, tgt := i, tgt
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				targets[i] = s.runTarget(ctx, spec, tgt, i, runID, size, sourceIsDir, sourceChecksum)
			}()
		}
		wg.Wait()
	}
	report.Targets = targets

	if replicationPaused {
		if err := s.Replication.StartReplication(ctx, spec.SourceHost); err != nil {
			s.logCleanupErr("start_replication", err)
		}
	}
	report.FinishedAt = time.Now()

	if report.AllFailed() {
		return report, ErrAllTargetsFailed
	}
	if first, ok := report.FirstFailure(); ok {
		return report, fmt.Errorf("target %s: %s", first.Host, first.Error)
	}
	return report, nil
}

// globalSanityChecks runs the run-level checks of spec.md §4.5 step 1
// that are independent of any one target: source reachability,
// existence, size (of the derived data directory for xtrabackup), and
// the optional pre-transfer checksum.
func (s *Supervisor) globalSanityChecks(ctx context.Context, spec *config.TransferSpec) (size int64, sourceIsDir bool, sourceChecksum string, err error) {
	if !s.Probes.HostExists(ctx, spec.SourceHost) {
		return 0, false, "", Errorf(KindPrecondition, "source host %s unreachable", spec.SourceHost)
	}

	if spec.Options.Mode == config.ModeXtrabackup {
		if !s.Probes.IsSocket(ctx, spec.SourceHost, spec.SourcePath) {
			return 0, false, "", Errorf(KindPrecondition, "source %s:%s is not a socket", spec.SourceHost, spec.SourcePath)
		}

		datadir, err := pipeline.DeriveDataDir(spec.SourcePath)
		if err != nil {
			return 0, false, "", err
		}

		size, err = s.Probes.DiskUsage(ctx, spec.SourceHost, datadir)
		if err != nil {
			return 0, false, "", NewError(KindPrecondition, err)
		}

		if spec.Options.Checksum {
			sourceChecksum, err = s.Probes.CalculateChecksum(ctx, spec.SourceHost, datadir, true)
			if err != nil {
				return 0, false, "", NewError(KindPrecondition, err)
			}
		}

		return size, false, sourceChecksum, nil
	}

	if !s.Probes.FileExists(ctx, spec.SourceHost, spec.SourcePath) {
		return 0, false, "", Errorf(KindPrecondition, "source %s:%s does not exist", spec.SourceHost, spec.SourcePath)
	}

	if spec.Options.Mode == config.ModeFile {
		sourceIsDir = s.Probes.IsDir(ctx, spec.SourceHost, spec.SourcePath)
	}

	size, err = s.Probes.DiskUsage(ctx, spec.SourceHost, spec.SourcePath)
	if err != nil {
		return 0, false, "", NewError(KindPrecondition, err)
	}

	if spec.Options.Checksum {
		sourceChecksum, err = s.Probes.CalculateChecksum(ctx, spec.SourceHost, spec.SourcePath, sourceIsDir)
		if err != nil {
			return 0, false, "", NewError(KindPrecondition, err)
		}
	}

	return size, sourceIsDir, sourceChecksum, nil
}

// runTarget drives one target through the full state machine. Any
// per-target sanity failure returns before the firewall is ever
// touched, per the invariant that a target enters firewall_open only
// after its checks passed.
func (s *Supervisor) runTarget(ctx context.Context, spec *config.TransferSpec, tgt config.Target, idx int, runID string, size int64, sourceIsDir bool, sourceChecksum string) TargetReport {
	state := &TargetState{Host: tgt.Host, Path: tgt.Path, Phase: PhaseInit, startedAt: time.Now()}

	fail := func(kind ErrorKind, err error) TargetReport {
		state.Phase = PhaseFailed
		state.ErrorKind = kind
		state.Err = err
		state.duration = time.Since(state.startedAt)
		return state.report(false)
	}

	if err := s.perTargetSanityChecks(ctx, spec, tgt, size, sourceIsDir); err != nil {
		return fail(KindPrecondition, err)
	}
	state.Phase = PhaseChecks

	var pw string
	if spec.Options.Encrypt {
		var err error
		pw, err = s.password.Get()
		if err != nil {
			return fail(KindConfiguration, err)
		}
	}

	port := spec.Options.Port
	if port == 0 {
		allocated, err := s.Ports.Allocate(ctx, tgt.Host)
		if err != nil {
			return fail(KindResource, err)
		}
		port = allocated
	}
	state.AllocatedPort = port

	cleanup := &cleanupStack{}
	if err := s.Firewall.Open(ctx, spec.SourceHost, tgt.Host, port); err != nil {
		return fail(KindPrecondition, fmt.Errorf("opening firewall on %s: %w", tgt.Host, err))
	}
	state.Phase = PhaseFirewallOpen
	cleanup.push(func(ctx context.Context) error {
		return s.Firewall.Close(ctx, spec.SourceHost, tgt.Host, port)
	})

	srcDigestPath := fmt.Sprintf("/tmp/transferctl.%s.%s.src.md5", runID, sanitizeForPath(tgt.Host))
	tgtDigestPath := fmt.Sprintf("/tmp/transferctl.%s.%s.tgt.md5", runID, sanitizeForPath(tgt.Host))

	in := pipeline.BuildInput{
		Mode:                       spec.Options.Mode,
		Compress:                   spec.Options.Compress,
		Encrypt:                    spec.Options.Encrypt,
		Password:                   pw,
		SourceIsDir:                sourceIsDir,
		SourcePath:                 spec.SourcePath,
		TargetPath:                 finalTargetPath(spec, tgt, sourceIsDir),
		TargetHost:                 tgt.Host,
		Port:                       port,
		ParallelChecksum:           spec.Options.ParallelChecksum,
		ParallelChecksumSourcePath: srcDigestPath,
		ParallelChecksumTargetPath: tgtDigestPath,
		MySQLUser:                  spec.Options.MySQLUser,
		Parallel:                   spec.Options.Parallel,
	}

	targetCmd, err := pipeline.BuildTarget(in)
	if err != nil {
		if cerr := cleanup.run(ctx); cerr != nil {
			s.logCleanupErr("abort before listener start", cerr)
		}
		return fail(KindConfiguration, err)
	}

	handle, err := s.Exec.StartJob(ctx, tgt.Host, targetCmd.Argv)
	if err != nil {
		if cerr := cleanup.run(ctx); cerr != nil {
			s.logCleanupErr("abort after listener start failure", cerr)
		}
		return fail(KindTransfer, fmt.Errorf("starting listener on %s: %w", tgt.Host, err))
	}
	state.Phase = PhaseListening

	listenerDone := false
	cleanup.push(func(ctx context.Context) error {
		if listenerDone {
			return nil
		}
		return s.Exec.KillJob(ctx, handle)
	})

	select {
	case <-time.After(s.StartupDelay):
	case <-ctx.Done():
		if cerr := cleanup.run(ctx); cerr != nil {
			s.logCleanupErr("startup cancellation", cerr)
		}
		return fail(KindTransfer, ctx.Err())
	}

	sourceCmd, err := pipeline.BuildSource(in)
	if err != nil {
		if cerr := cleanup.run(ctx); cerr != nil {
			s.logCleanupErr("abort before send", cerr)
		}
		return fail(KindConfiguration, err)
	}

	state.Phase = PhaseSending
	senderResult, err := s.Exec.Run(ctx, spec.SourceHost, sourceCmd.Argv)
	if err != nil {
		if cerr := cleanup.run(ctx); cerr != nil {
			s.logCleanupErr("sender transport failure", cerr)
		}
		return fail(KindTransfer, fmt.Errorf("running sender on %s: %w", spec.SourceHost, err))
	}
	state.SenderExitCode = senderResult.ExitCode

	if senderResult.ExitCode != 0 {
		if cerr := cleanup.run(ctx); cerr != nil {
			s.logCleanupErr("sender nonzero exit", cerr)
		}
		return fail(KindTransfer, fmt.Errorf("sender exited %d on %s: %s", senderResult.ExitCode, spec.SourceHost, senderResult.Stderr))
	}

	if _, err := s.Exec.WaitJob(ctx, handle); err != nil {
		listenerDone = true
		if cerr := cleanup.run(ctx); cerr != nil {
			s.logCleanupErr("listener wait failure", cerr)
		}
		return fail(KindTransfer, fmt.Errorf("waiting for listener on %s: %w", tgt.Host, err))
	}
	listenerDone = true
	state.Phase = PhaseVerifying

	checksumMatch, err := s.afterTransferChecks(ctx, spec, tgt, in, sourceIsDir, sourceChecksum)
	if err != nil {
		if cerr := cleanup.run(ctx); cerr != nil {
			s.logCleanupErr("integrity failure", cerr)
		}
		return fail(KindIntegrity, err)
	}

	if cerr := cleanup.run(ctx); cerr != nil {
		s.logCleanupErr("post-success firewall close", cerr)
	}

	state.Phase = PhaseDone
	state.duration = time.Since(state.startedAt)
	return state.report(checksumMatch)
}

func (s *Supervisor) perTargetSanityChecks(ctx context.Context, spec *config.TransferSpec, tgt config.Target, size int64, sourceIsDir bool) error {
	if !s.Probes.HostExists(ctx, tgt.Host) {
		return fmt.Errorf("target host %s unreachable", tgt.Host)
	}
	if !s.Probes.FileExists(ctx, tgt.Host, tgt.Path) {
		return fmt.Errorf("target %s:%s does not exist", tgt.Host, tgt.Path)
	}
	if !s.Probes.IsDir(ctx, tgt.Host, tgt.Path) {
		return fmt.Errorf("target %s:%s is not a directory", tgt.Host, tgt.Path)
	}

	switch spec.Options.Mode {
	case config.ModeXtrabackup:
		if !s.Probes.DirIsEmpty(ctx, tgt.Host, tgt.Path) {
			return fmt.Errorf("target %s:%s is not empty", tgt.Host, tgt.Path)
		}
	case config.ModeFile:
		if !sourceIsDir {
			final := finalTargetPath(spec, tgt, sourceIsDir)
			if s.Probes.FileExists(ctx, tgt.Host, final) {
				return fmt.Errorf("final destination %s:%s already exists", tgt.Host, final)
			}
		}
	}

	ok, err := s.Probes.HasAvailableDiskSpace(ctx, tgt.Host, tgt.Path, size)
	if err != nil {
		return fmt.Errorf("checking free space on %s:%s: %w", tgt.Host, tgt.Path, err)
	}
	if !ok {
		return fmt.Errorf("insufficient free space on %s:%s for %d bytes", tgt.Host, tgt.Path, size)
	}

	return nil
}

func (s *Supervisor) afterTransferChecks(ctx context.Context, spec *config.TransferSpec, tgt config.Target, in pipeline.BuildInput, sourceIsDir bool, sourceChecksum string) (bool, error) {
	final := verificationRoot(spec, in.TargetPath, sourceIsDir)

	size, err := s.Probes.DiskUsage(ctx, tgt.Host, final)
	if err != nil {
		return false, fmt.Errorf("reading final disk usage on %s:%s: %w", tgt.Host, final, err)
	}
	if size <= 0 {
		return false, fmt.Errorf("final destination %s:%s is empty", tgt.Host, final)
	}

	switch {
	case spec.Options.Checksum:
		// Xtrabackup's source side is always hashed as a directory (the
		// derived datadir, see globalSanityChecks) and the target side
		// must match it: mbstream extracts the stream as a tree under
		// final, never a single file.
		checksumIsDir := sourceIsDir || spec.Options.Mode == config.ModeXtrabackup
		targetChecksum, err := s.Probes.CalculateChecksum(ctx, tgt.Host, final, checksumIsDir)
		if err != nil {
			return false, fmt.Errorf("computing target checksum on %s:%s: %w", tgt.Host, final, err)
		}
		if targetChecksum != sourceChecksum {
			return false, fmt.Errorf("checksum mismatch for %s: source %s != target %s", tgt.Host, sourceChecksum, targetChecksum)
		}
		return true, nil

	case spec.Options.ParallelChecksum:
		srcDigest, err := s.Probes.ReadChecksum(ctx, spec.SourceHost, in.ParallelChecksumSourcePath)
		if err != nil {
			return false, fmt.Errorf("reading source digest: %w", err)
		}
		tgtDigest, err := s.Probes.ReadChecksum(ctx, tgt.Host, in.ParallelChecksumTargetPath)
		if err != nil {
			return false, fmt.Errorf("reading target digest: %w", err)
		}
		if srcDigest != tgtDigest {
			return false, fmt.Errorf("parallel checksum mismatch for %s: source %s != target %s", tgt.Host, srcDigest, tgtDigest)
		}
		return true, nil
	}

	return false, nil
}

func randomID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// finalTargetPath is the path the terminal consumer actually writes
// to: the joined file path for a regular-file transfer, or the target
// directory root for anything archive-extracted into place.
func finalTargetPath(spec *config.TransferSpec, tgt config.Target, sourceIsDir bool) string {
	if spec.Options.Mode == config.ModeFile && !sourceIsDir {
		return filepath.Join(tgt.Path, filepath.Base(spec.SourcePath))
	}
	return tgt.Path
}

// verificationRoot is the path after-transfer checks (disk usage,
// checksum) must examine. It differs from targetPath (the BuildInput
// TargetPath fed to the composer) exactly for a directory source in
// ModeFile: the source head is `tar cf - -C <dir> <base>`, so the
// archive's sole top-level entry is <base> itself, and the target's
// `tar xf - -C <targetPath>` lands content at <targetPath>/<base>, one
// level below the -C argument. Xtrabackup's mbstream and decompress's
// --strip-components=1 both already land content directly at
// targetPath, so they pass through unchanged.
func verificationRoot(spec *config.TransferSpec, targetPath string, sourceIsDir bool) string {
	if spec.Options.Mode == config.ModeFile && sourceIsDir {
		return filepath.Join(targetPath, filepath.Base(spec.SourcePath))
	}
	return targetPath
}

func sanitizeForPath(host string) string {
	out := make([]rune, 0, len(host))
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
