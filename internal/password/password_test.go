package password

import "testing"

func TestSession_Memoizes(t *testing.T) {
	var s Session

	first, err := s.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == "" {
		t.Fatal("expected a nonempty password")
	}

	second, err := s.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Errorf("expected the same password across calls, got %q then %q", first, second)
	}
}

func TestSession_String_NeverLeaksValue(t *testing.T) {
	var s Session
	if _, err := s.Get(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.String() == s.value {
		t.Fatal("String() must never return the raw password")
	}
}

func TestSession_DistinctInstancesDiffer(t *testing.T) {
	var a, b Session
	pa, err := a.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pb, err := b.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pa == pb {
		t.Error("expected two independent sessions to generate different passwords")
	}
}
