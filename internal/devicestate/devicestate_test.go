package devicestate

import (
	"testing"

	"github.com/cloudtel/asterisk-blf-sync/internal/extstate"
)

func TestParseAndStringRoundTrip(t *testing.T) {
	states := []State{Unknown, NotInUse, InUse, Busy, Invalid, Unavailable, Ringing, RingInUse, OnHold}
	for _, s := range states {
		got, err := Parse(s.String())
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s.String(), err)
		}
		if got != s {
			t.Errorf("round trip %v -> %q -> %v", s, s.String(), got)
		}
	}
}

func TestParseCaseInsensitive(t *testing.T) {
	got, err := Parse("inuse")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got != InUse {
		t.Errorf("Parse(\"inuse\") = %v, want InUse", got)
	}
}

func TestParseUnrecognized(t *testing.T) {
	if _, err := Parse("NOT_A_STATE"); err == nil {
		t.Fatal("expected error for unrecognized state")
	}
}

func TestFromExtensionState(t *testing.T) {
	type testCase struct {
		in   extstate.State
		want State
	}
	tests := [...]testCase{
		{extstate.Removed, Invalid},
		{extstate.Deactivated, Unknown},
		{extstate.Idle, NotInUse},
		{extstate.InUse, InUse},
		{extstate.Busy, Busy},
		{extstate.Unavailable, Unavailable},
		{extstate.Ringing, Ringing},
		{extstate.InUseRinging, RingInUse},
		{extstate.Hold, OnHold},
		{extstate.InUseHold, OnHold}, // deliberate collapse, not a bug
		{extstate.State(99), Unknown},
	}

	for _, tc := range tests {
		got := FromExtensionState(tc.in)
		if got != tc.want {
			t.Errorf("FromExtensionState(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
