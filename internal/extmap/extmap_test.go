package extmap

import (
	"regexp"
	"testing"

	"github.com/cloudtel/asterisk-blf-sync/internal/devicestate"
)

func TestMap(t *testing.T) {
	m := New(regexp.MustCompile(`^(\d+)$`), "Custom:$1")

	type testCase struct {
		ev        Event
		wantOK    bool
		wantDev   string
		wantState devicestate.State
	}
	tests := [...]testCase{
		{Event{Exten: "101", Status: "InUse"}, true, "Custom:101", devicestate.InUse},
		{Event{Exten: "150", Status: "Busy"}, true, "Custom:150", devicestate.Busy},
		{Event{Exten: "abc", Status: "InUse"}, false, "", 0},
		{Event{Exten: "101", Status: "not-a-status"}, false, "", 0},
	}

	for _, tc := range tests {
		device, state, ok := m.Map(tc.ev)
		if ok != tc.wantOK {
			t.Errorf("Map(%+v) ok = %v, want %v", tc.ev, ok, tc.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if device != tc.wantDev {
			t.Errorf("Map(%+v) device = %q, want %q", tc.ev, device, tc.wantDev)
		}
		if state != tc.wantState {
			t.Errorf("Map(%+v) state = %v, want %v", tc.ev, state, tc.wantState)
		}
	}
}

func TestExtensionPatternFiltering(t *testing.T) {
	m := New(regexp.MustCompile(`^1\d\d$`), "Custom:$0")

	if _, _, ok := m.Map(Event{Exten: "200", Status: "InUse"}); ok {
		t.Error("expected 200 to be filtered out by pattern ^1\\d\\d$")
	}

	device, state, ok := m.Map(Event{Exten: "150", Status: "Busy"})
	if !ok {
		t.Fatal("expected 150 to match pattern")
	}
	if device != "Custom:150" || state != devicestate.Busy {
		t.Errorf("got (%q, %v), want (Custom:150, Busy)", device, state)
	}
}

func TestMapBatchLastWins(t *testing.T) {
	m := New(regexp.MustCompile(`^(\d+)$`), "Custom:$1")

	batch := MapBatch(m, []Event{
		{Exten: "101", Status: "InUse"},
		{Exten: "101", Status: "Idle"},
	})

	if len(batch) != 1 {
		t.Fatalf("expected 1 device in batch, got %d", len(batch))
	}
	if got := batch["Custom:101"]; got != devicestate.NotInUse {
		t.Errorf("batch[Custom:101] = %v, want NotInUse (last event wins)", got)
	}
}
