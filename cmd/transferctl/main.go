// Command transferctl is the one-shot CLI: it runs a single transfer
// from one source host to one or more target hosts and exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opsmesh/transferctl/internal/config"
	"github.com/opsmesh/transferctl/internal/executor"
	"github.com/opsmesh/transferctl/internal/firewall"
	"github.com/opsmesh/transferctl/internal/logging"
	"github.com/opsmesh/transferctl/internal/portalloc"
	"github.com/opsmesh/transferctl/internal/probes"
	"github.com/opsmesh/transferctl/internal/replication"
	"github.com/opsmesh/transferctl/internal/transfer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("transferctl", flag.ContinueOnError)

	mode := fs.String("type", "file", "transfer mode: file, xtrabackup, decompress")
	port := fs.Int("port", 0, "fixed port for every target (0: allocate one port per target)")

	// compress/encrypt/checksum default ON; parallel-checksum defaults OFF.
	// Each has a --no-* negation rather than taking an explicit =false, the
	// same paired-toggle shape vjache-cie's init command uses for -hook/-no-hook.
	compress := fs.Bool("compress", true, "pipe through pigz")
	noCompress := fs.Bool("no-compress", false, "disable --compress")
	encrypt := fs.Bool("encrypt", true, "pipe through openssl enc with a generated session password")
	noEncrypt := fs.Bool("no-encrypt", false, "disable --encrypt")
	checksum := fs.Bool("checksum", true, "verify a full-payload checksum after transfer")
	noChecksum := fs.Bool("no-checksum", false, "disable --checksum")
	parallelChecksum := fs.Bool("parallel-checksum", false, "verify a tee'd checksum computed during transfer")
	noParallelChecksum := fs.Bool("no-parallel-checksum", false, "disable --parallel-checksum")
	stopSlave := fs.Bool("stop-slave", false, "stop replication on the source before transferring, restart after")
	mysqlUser := fs.String("mysql-user", "root", "mysql user for xtrabackup mode")
	parallel := fs.Int("parallel", 16, "xtrabackup --parallel value")

	sshUser := fs.String("ssh-user", "", "SSH user for the remote executor")
	sshKeyPath := fs.String("ssh-key", "", "path to the SSH private key")
	knownHostsPath := fs.String("known-hosts", "", "path to the known_hosts file")

	verbose := fs.Bool("verbose", false, "enable debug logging")
	logFormat := fs.String("log-format", "json", "log format: json or text")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *noCompress {
		*compress = false
	}
	if *noEncrypt {
		*encrypt = false
	}
	if *noChecksum {
		*checksum = false
	}
	if *noParallelChecksum {
		*parallelChecksum = false
	}

	positional := fs.Args()
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "usage: transferctl [flags] SOURCE_HOST:SOURCE_PATH TARGET_HOST:TARGET_PATH...")
		return 2
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, closer := logging.New(level, *logFormat, "")
	defer closer.Close()

	sourceHost, sourcePath, err := config.ParseEndpoint(positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	targets := make([]config.Target, 0, len(positional)-1)
	for _, raw := range positional[1:] {
		host, path, err := config.ParseEndpoint(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
		targets = append(targets, config.Target{Host: host, Path: path})
	}

	spec, err := config.New(sourceHost, sourcePath, targets, config.Options{
		Mode:             config.Mode(strings.ToLower(*mode)),
		Port:             *port,
		Compress:         *compress,
		Encrypt:          *encrypt,
		Checksum:         *checksum,
		ParallelChecksum: *parallelChecksum,
		StopSlave:        *stopSlave,
		Verbose:          *verbose,
		MySQLUser:        *mysqlUser,
		Parallel:         *parallel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	exec, err := executor.NewSSHExecutor(executor.SSHConfig{
		User:           *sshUser,
		KeyPath:        *sshKeyPath,
		KnownHostsPath: *knownHostsPath,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: building ssh executor: %v\n", err)
		return 1
	}

	probeSet := probes.New(exec)
	sup := transfer.NewSupervisor(
		exec,
		probeSet,
		firewall.New(exec),
		replication.New(exec),
		portalloc.New(probeSet, 0, 0, 0),
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling run", "signal", sig)
		cancel()
	}()

	runReport, err := sup.Run(ctx, spec)

	encoded, marshalErr := json.MarshalIndent(runReport, "", "  ")
	if marshalErr == nil {
		fmt.Println(string(encoded))
	}

	switch {
	case err == nil:
		return 0
	case len(runReport.Targets) == 0:
		logger.Error("run failed before any target started", "error", err)
		return 1
	case runReport.AllFailed():
		logger.Error("all targets failed", "error", err)
		return 1
	default:
		logger.Warn("one or more targets failed", "error", err)
		return 2
	}
}
