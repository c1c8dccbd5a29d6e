package transfer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/opsmesh/transferctl/internal/config"
	"github.com/opsmesh/transferctl/internal/executor"
)

func key(host, path string) string { return host + ":" + path }

type fakeProber struct {
	mu sync.Mutex

	down     map[string]bool
	exists   map[string]bool
	dirs     map[string]bool
	empty    map[string]bool
	usage    map[string]int64
	hasSpace map[string]bool
	sums     map[string]string
	digests  map[string]string
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		down:     map[string]bool{},
		exists:   map[string]bool{},
		dirs:     map[string]bool{},
		empty:    map[string]bool{},
		usage:    map[string]int64{},
		hasSpace: map[string]bool{},
		sums:     map[string]string{},
		digests:  map[string]string{},
	}
}

func (f *fakeProber) HostExists(ctx context.Context, host string) bool { return !f.down[host] }
func (f *fakeProber) FileExists(ctx context.Context, host, path string) bool {
	return f.exists[key(host, path)]
}
func (f *fakeProber) IsDir(ctx context.Context, host, path string) bool { return f.dirs[key(host, path)] }
func (f *fakeProber) IsSocket(ctx context.Context, host, path string) bool {
	return f.exists[key(host, path)]
}
func (f *fakeProber) DirIsEmpty(ctx context.Context, host, dir string) bool {
	return f.empty[key(host, dir)]
}
func (f *fakeProber) DiskUsage(ctx context.Context, host, path string) (int64, error) {
	if u, ok := f.usage[key(host, path)]; ok {
		return u, nil
	}
	return 100, nil
}
func (f *fakeProber) HasAvailableDiskSpace(ctx context.Context, host, path string, size int64) (bool, error) {
	if v, ok := f.hasSpace[key(host, path)]; ok {
		return v, nil
	}
	return true, nil
}
func (f *fakeProber) CalculateChecksum(ctx context.Context, host, path string, isDir bool) (string, error) {
	return f.sums[key(host, path)], nil
}
func (f *fakeProber) ReadChecksum(ctx context.Context, host, path string) (string, error) {
	return f.digests[key(host, path)], nil
}

type fakeFirewall struct {
	mu      sync.Mutex
	opened  []string
	closed  []string
	openErr map[string]error
}

func (f *fakeFirewall) Open(ctx context.Context, sourceHost, targetHost string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil && f.openErr[targetHost] != nil {
		return f.openErr[targetHost]
	}
	f.opened = append(f.opened, targetHost)
	return nil
}
func (f *fakeFirewall) Close(ctx context.Context, sourceHost, targetHost string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, targetHost)
	return nil
}

type fakeReplication struct {
	mu      sync.Mutex
	stopped bool
	started bool
	stopErr error
}

func (f *fakeReplication) StopReplication(ctx context.Context, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = true
	return nil
}
func (f *fakeReplication) StartReplication(ctx context.Context, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

type fakePorts struct {
	mu   sync.Mutex
	next int
}

func (p *fakePorts) Allocate(ctx context.Context, host string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return 20000 + p.next, nil
}

func newSupervisor(exec executor.RemoteExecutor, probes Prober, fw FirewallController, repl ReplicationController, ports PortAllocator) *Supervisor {
	s := NewSupervisor(exec, probes, fw, repl, ports, nil)
	s.StartupDelay = 0
	return s
}

func TestRun_PlainFileCopySucceeds(t *testing.T) {
	probes := newFakeProber()
	probes.exists[key("src", "/a/b.bin")] = true
	probes.exists[key("tgt", "/dst/")] = true
	probes.dirs[key("tgt", "/dst/")] = true
	probes.usage[key("tgt", "/dst/b.bin")] = 4096

	fake := &executor.FakeExecutor{}
	fw := &fakeFirewall{}
	repl := &fakeReplication{}
	ports := &fakePorts{}

	s := newSupervisor(fake, probes, fw, repl, ports)

	spec, err := config.New("src", "/a/b.bin", []config.Target{{Host: "tgt", Path: "/dst/"}}, config.Options{
		Mode: config.ModeFile, Port: 5000, Compress: false, Encrypt: false, Checksum: false,
	})
	if err != nil {
		t.Fatalf("unexpected spec error: %v", err)
	}

	report, err := s.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if len(report.Targets) != 1 || report.Targets[0].Phase != PhaseDone {
		t.Fatalf("expected target done, got %+v", report.Targets)
	}
	if len(fw.opened) != 1 || len(fw.closed) != 1 {
		t.Errorf("expected exactly one open and one close, got open=%v close=%v", fw.opened, fw.closed)
	}
}

func TestRun_SanityFailureNeverTouchesFirewall(t *testing.T) {
	probes := newFakeProber()
	probes.exists[key("src", "/a/b.bin")] = true
	// target "/dst/" deliberately absent from probes.exists -> file_exists false

	fake := &executor.FakeExecutor{}
	fw := &fakeFirewall{}
	repl := &fakeReplication{}
	ports := &fakePorts{}

	s := newSupervisor(fake, probes, fw, repl, ports)

	spec, err := config.New("src", "/a/b.bin", []config.Target{{Host: "tgt", Path: "/dst/"}}, config.Options{Mode: config.ModeFile, Port: 5000})
	if err != nil {
		t.Fatalf("unexpected spec error: %v", err)
	}

	report, err := s.Run(context.Background(), spec)
	if err == nil {
		t.Fatal("expected a run error")
	}
	if report.Targets[0].Phase != PhaseFailed || report.Targets[0].ErrorKind != KindPrecondition {
		t.Errorf("expected a precondition failure, got %+v", report.Targets[0])
	}
	if len(fw.opened) != 0 {
		t.Errorf("expected no firewall open on sanity failure, got %v", fw.opened)
	}
	if repl.stopped || repl.started {
		t.Errorf("replication should not have been touched when stop_slave is unset")
	}
}

func TestRun_SenderFailureKillsListenerAndClosesFirewall(t *testing.T) {
	probes := newFakeProber()
	probes.exists[key("src", "/a/b.bin")] = true
	probes.exists[key("tgt", "/dst/")] = true
	probes.dirs[key("tgt", "/dst/")] = true

	fake := &executor.FakeExecutor{
		RunResult: func(host string, argv []string) (*executor.Result, error) {
			if host == "src" {
				return &executor.Result{ExitCode: 1, Stderr: "boom"}, nil
			}
			return &executor.Result{ExitCode: 0}, nil
		},
	}
	fw := &fakeFirewall{}
	repl := &fakeReplication{}
	ports := &fakePorts{}

	s := newSupervisor(fake, probes, fw, repl, ports)

	spec, err := config.New("src", "/a/b.bin", []config.Target{{Host: "tgt", Path: "/dst/"}}, config.Options{Mode: config.ModeFile, Port: 5000})
	if err != nil {
		t.Fatalf("unexpected spec error: %v", err)
	}

	report, err := s.Run(context.Background(), spec)
	if err == nil {
		t.Fatal("expected a run error")
	}
	if report.Targets[0].Phase != PhaseFailed || report.Targets[0].ErrorKind != KindTransfer {
		t.Errorf("expected a transfer failure, got %+v", report.Targets[0])
	}
	if len(fw.closed) != 1 {
		t.Errorf("expected firewall close on sender failure, got %v", fw.closed)
	}
}

func TestRun_TwoTargetsDistinctPortsAndIndependentOutcomes(t *testing.T) {
	probes := newFakeProber()
	probes.exists[key("src", "/data/dir")] = true
	probes.dirs[key("src", "/data/dir")] = true
	probes.sums[key("src", "/data/dir")] = "digest-a"

	for _, tgt := range []string{"tgt1", "tgt2"} {
		probes.exists[key(tgt, "/restore/")] = true
		probes.dirs[key(tgt, "/restore/")] = true
		probes.usage[key(tgt, "/restore/dir")] = 2048
	}
	// A directory source lands one level below the target path, at
	// <target>/<base>, which is where after-transfer checks look.
	probes.sums[key("tgt1", "/restore/dir")] = "digest-a"
	probes.sums[key("tgt2", "/restore/dir")] = "digest-mismatch"

	fake := &executor.FakeExecutor{}
	fw := &fakeFirewall{}
	repl := &fakeReplication{}
	ports := &fakePorts{}

	s := newSupervisor(fake, probes, fw, repl, ports)

	spec, err := config.New("src", "/data/dir", []config.Target{
		{Host: "tgt1", Path: "/restore/"},
		{Host: "tgt2", Path: "/restore/"},
	}, config.Options{Mode: config.ModeFile, Port: 0, Checksum: true})
	if err != nil {
		t.Fatalf("unexpected spec error: %v", err)
	}

	report, err := s.Run(context.Background(), spec)
	if err == nil {
		t.Fatal("expected an overall error since one target fails checksum")
	}

	seenPorts := map[int]bool{}
	var successes, failures int
	for _, tr := range report.Targets {
		seenPorts[tr.AllocatedPort] = true
		if tr.Phase == PhaseDone {
			successes++
		} else {
			failures++
		}
	}
	if successes != 1 || failures != 1 {
		t.Errorf("expected one success and one failure, got %+v", report.Targets)
	}
	if len(seenPorts) != 2 {
		t.Errorf("expected two distinct allocated ports, got %+v", report.Targets)
	}
	if len(fw.opened) != 2 || len(fw.closed) != 2 {
		t.Errorf("expected both targets to open and close their firewall hole, got open=%v close=%v", fw.opened, fw.closed)
	}
}

func TestRun_ReplicationStoppedAndRestarted(t *testing.T) {
	probes := newFakeProber()
	probes.exists[key("src", "/run/mysqld.sock")] = true
	probes.exists[key("tgt", "/srv/sqldata/")] = true
	probes.dirs[key("tgt", "/srv/sqldata/")] = true
	probes.empty[key("tgt", "/srv/sqldata/")] = true
	probes.usage[key("tgt", "/srv/sqldata/")] = 1

	fake := &executor.FakeExecutor{}
	fw := &fakeFirewall{}
	repl := &fakeReplication{}
	ports := &fakePorts{}

	s := newSupervisor(fake, probes, fw, repl, ports)

	spec, err := config.New("src", "/run/mysqld.sock", []config.Target{{Host: "tgt", Path: "/srv/sqldata/"}}, config.Options{
		Mode: config.ModeXtrabackup, Port: 5000, StopSlave: true,
	})
	if err != nil {
		t.Fatalf("unexpected spec error: %v", err)
	}

	if _, err := s.Run(context.Background(), spec); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if !repl.stopped || !repl.started {
		t.Errorf("expected replication stop+start, got stopped=%v started=%v", repl.stopped, repl.started)
	}
}

func TestRun_ReplicationRefusalAbortsBeforeFirewall(t *testing.T) {
	probes := newFakeProber()
	probes.exists[key("src", "/run/mysqld.sock")] = true

	fake := &executor.FakeExecutor{}
	fw := &fakeFirewall{}
	repl := &fakeReplication{stopErr: fmt.Errorf("replica busy")}
	ports := &fakePorts{}

	s := newSupervisor(fake, probes, fw, repl, ports)

	spec, err := config.New("src", "/run/mysqld.sock", []config.Target{{Host: "tgt", Path: "/srv/sqldata/"}}, config.Options{
		Mode: config.ModeXtrabackup, Port: 5000, StopSlave: true,
	})
	if err != nil {
		t.Fatalf("unexpected spec error: %v", err)
	}

	_, err = s.Run(context.Background(), spec)
	if err == nil {
		t.Fatal("expected an error")
	}
	if kind, ok := KindOf(err); !ok || kind != KindPrecondition {
		t.Errorf("expected KindPrecondition, got %v (ok=%v)", kind, ok)
	}
	if len(fw.opened) != 0 {
		t.Error("expected no firewall activity when replication refuses to stop")
	}
}
