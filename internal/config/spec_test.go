package config

import "testing"

func TestOptionsNormalize_ChecksumWinsOverParallel(t *testing.T) {
	o := Options{Checksum: true, ParallelChecksum: true}
	o.Normalize()
	if o.ParallelChecksum {
		t.Errorf("expected parallel_checksum to be disabled when checksum is set")
	}
	if !o.Checksum {
		t.Errorf("expected checksum to remain enabled")
	}
}

func TestOptionsNormalize_DefaultMode(t *testing.T) {
	o := Options{}
	o.Normalize()
	if o.Mode != ModeFile {
		t.Errorf("expected default mode %q, got %q", ModeFile, o.Mode)
	}
}

func TestOptionsNormalize_XtrabackupDefaultsMySQLUserAndParallel(t *testing.T) {
	o := Options{Mode: ModeXtrabackup}
	o.Normalize()
	if o.MySQLUser != "root" {
		t.Errorf("expected default mysql user %q, got %q", "root", o.MySQLUser)
	}
	if o.Parallel != 16 {
		t.Errorf("expected default parallel 16, got %d", o.Parallel)
	}
}

func TestOptionsNormalize_XtrabackupKeepsExplicitValues(t *testing.T) {
	o := Options{Mode: ModeXtrabackup, MySQLUser: "backup_svc", Parallel: 4}
	o.Normalize()
	if o.MySQLUser != "backup_svc" {
		t.Errorf("expected explicit mysql user to be kept, got %q", o.MySQLUser)
	}
	if o.Parallel != 4 {
		t.Errorf("expected explicit parallel to be kept, got %d", o.Parallel)
	}
}

func TestOptionsNormalize_NonXtrabackupLeavesMySQLFieldsZero(t *testing.T) {
	o := Options{Mode: ModeFile}
	o.Normalize()
	if o.MySQLUser != "" || o.Parallel != 0 {
		t.Errorf("expected mysql user/parallel to stay unset for file mode, got %+v", o)
	}
}

func TestNew_RequiresAtLeastOneTarget(t *testing.T) {
	_, err := New("src", "/a/b", nil, Options{})
	if err == nil {
		t.Fatal("expected error for empty targets")
	}
}

func TestNew_RejectsInvalidMode(t *testing.T) {
	_, err := New("src", "/a/b", []Target{{Host: "tgt", Path: "/dst"}}, Options{Mode: "bogus"})
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestNew_RejectsPortOutOfRange(t *testing.T) {
	_, err := New("src", "/a/b", []Target{{Host: "tgt", Path: "/dst"}}, Options{Port: 70000})
	if err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestNew_Success(t *testing.T) {
	spec, err := New("src", "/a/b", []Target{{Host: "tgt", Path: "/dst"}}, Options{Mode: ModeFile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.SourceHost != "src" || spec.SourcePath != "/a/b" {
		t.Errorf("unexpected spec fields: %+v", spec)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in        string
		host      string
		path      string
		expectErr bool
	}{
		{"host:/path", "host", "/path", false},
		{"host:path:extra", "", "", true},
		{"nohyphen", "", "", true},
		{":/path", "", "", true},
		{"host:", "", "", true},
	}

	for _, tc := range cases {
		host, path, err := ParseEndpoint(tc.in)
		if tc.expectErr {
			if err == nil {
				t.Errorf("ParseEndpoint(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEndpoint(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if host != tc.host || path != tc.path {
			t.Errorf("ParseEndpoint(%q) = (%q, %q), want (%q, %q)", tc.in, host, path, tc.host, tc.path)
		}
	}
}
