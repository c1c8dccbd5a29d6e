package pipeline

import (
	"strings"
	"testing"

	"github.com/opsmesh/transferctl/internal/xerr"
)

func TestDeriveDataDir_DefaultSocket(t *testing.T) {
	dir, err := DeriveDataDir("mysqld.sock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "/srv/sqldata" {
		t.Errorf("got %q, want /srv/sqldata", dir)
	}
}

func TestDeriveDataDir_InstanceSocket(t *testing.T) {
	dir, err := DeriveDataDir("test.mysqld.s1.sock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "/srv/sqldata.s1" {
		t.Errorf("got %q, want /srv/sqldata.s1", dir)
	}
}

func TestDeriveDataDir_UnrecognizedShapeFails(t *testing.T) {
	_, err := DeriveDataDir("test.mysqld.smx1.sock")
	if err == nil {
		t.Fatal("expected an error for an unrecognized socket shape")
	}
	if kind, ok := xerr.KindOf(err); !ok || kind != xerr.KindConfiguration {
		t.Errorf("expected KindConfiguration, got %v (ok=%v)", kind, ok)
	}
}

func TestXtrabackupCommand(t *testing.T) {
	cmd, err := XtrabackupCommand("mysqld.sock", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "xtrabackup --backup --target-dir /tmp --user root --socket=mysqld.sock --close-files --datadir=/srv/sqldata --parallel=16 --stream=xbstream --slave-info --skip-ssl"
	if cmd != want {
		t.Errorf("got %q, want %q", cmd, want)
	}
}

func TestXtrabackupCommand_CustomUserAndParallelism(t *testing.T) {
	cmd, err := XtrabackupCommand("test.mysqld.s1.sock", "backup_user", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"--user backup_user", "--parallel=4", "--datadir=/srv/sqldata.s1"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("expected %q in %q", want, cmd)
		}
	}
}

func TestXtrabackupCommand_PropagatesDataDirError(t *testing.T) {
	_, err := XtrabackupCommand("weird.sock.shape", "", 0)
	if err == nil {
		t.Fatal("expected an error")
	}
}
