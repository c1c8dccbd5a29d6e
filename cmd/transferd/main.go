// Command transferd is the long-running daemon: it loads a job list from
// YAML and runs the Transfer Supervisor on cron schedules instead of a
// one-shot CLI invocation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsmesh/transferctl/internal/config"
	"github.com/opsmesh/transferctl/internal/daemon"
	"github.com/opsmesh/transferctl/internal/executor"
	"github.com/opsmesh/transferctl/internal/firewall"
	"github.com/opsmesh/transferctl/internal/logging"
	"github.com/opsmesh/transferctl/internal/metrics"
	"github.com/opsmesh/transferctl/internal/portalloc"
	"github.com/opsmesh/transferctl/internal/probes"
	"github.com/opsmesh/transferctl/internal/replication"
	"github.com/opsmesh/transferctl/internal/report"
	"github.com/opsmesh/transferctl/internal/resourceguard"
	"github.com/opsmesh/transferctl/internal/transfer"
)

func main() {
	configPath := flag.String("config", "/etc/transferctl/transferd.yaml", "path to daemon config file")
	flag.Parse()

	cfg, err := config.LoadDaemonConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	exec, err := executor.NewSSHExecutor(executor.SSHConfig{
		User:           cfg.Executor.SSHUser,
		KeyPath:        cfg.Executor.SSHKeyPath,
		KnownHostsPath: cfg.Executor.KnownHostsPath,
		ConnectTimeout: cfg.Executor.ConnectTimeout,
	})
	if err != nil {
		logger.Error("building ssh executor", "error", err)
		os.Exit(1)
	}

	probeSet := probes.New(exec)
	guard := resourceguard.New(logger, cfg.ResourceGuard.MaxParallelTargets, cfg.ResourceGuard.MinFreeMemoryPercent)

	reporter, err := report.New(ctx, report.Config{
		S3Bucket:        cfg.Report.S3Bucket,
		S3Prefix:        cfg.Report.S3Prefix,
		S3Region:        cfg.Report.S3Region,
		AccessKeyID:     cfg.Report.S3AccessKeyID,
		SecretAccessKey: cfg.Report.S3SecretAccessKey,
	}, logger)
	if err != nil {
		logger.Error("building run reporter", "error", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics exporter stopped", "error", err)
			}
		}()
	}

	newSupervisor := func() *transfer.Supervisor {
		return transfer.NewSupervisor(
			exec,
			probeSet,
			firewall.New(exec),
			replication.New(exec),
			portalloc.New(probeSet, 0, 0, 0),
			logger,
		)
	}

	sched, err := daemon.New(cfg, logger, newSupervisor, guard, reporter, m)
	if err != nil {
		logger.Error("building scheduler", "error", err)
		os.Exit(1)
	}

	sched.Start()
	<-ctx.Done()
	sched.Stop(context.Background())
}
