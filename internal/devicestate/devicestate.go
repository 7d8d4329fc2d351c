// Package devicestate implements the DeviceState enumeration written back
// to Asterisk's DEVICE_STATE() dialplan function, and the fixed mapping
// from extstate.State that drives forwarding.
package devicestate

import (
    "fmt"
    "strings"

    "github.com/cloudtel/asterisk-blf-sync/internal/extstate"
)

// State is one of the closed set of device-state names Asterisk accepts
// for a Custom: device.
type State int

const (
    Unknown State = iota
    NotInUse
    InUse
    Busy
    Invalid
    Unavailable
    Ringing
    RingInUse
    OnHold
)

var names = [...]string{
    Unknown:     "UNKNOWN",
    NotInUse:    "NOT_INUSE",
    InUse:       "INUSE",
    Busy:        "BUSY",
    Invalid:     "INVALID",
    Unavailable: "UNAVAILABLE",
    Ringing:     "RINGING",
    RingInUse:   "RINGINUSE",
    OnHold:      "ONHOLD",
}

// String renders the canonical Asterisk device-state name for s.
func (s State) String() string {
    if int(s) >= 0 && int(s) < len(names) {
        return names[s]
    }
    return fmt.Sprintf("DeviceState(%d)", int(s))
}

// Parse parses a device-state name, case-insensitively.
func Parse(name string) (State, error) {
    upper := strings.ToUpper(strings.TrimSpace(name))
    for s, n := range names {
        if n == upper {
            return State(s), nil
        }
    }
    return Unknown, fmt.Errorf("devicestate: unrecognized state %q", name)
}

// FromExtensionState applies the fixed, total ExtensionState→DeviceState
// table from the specification. InUse+Hold deliberately collapses onto the
// same DeviceState as plain Hold, losing information — this is intentional,
// not a bug: Asterisk itself has no "in use + on hold" lamp state for BLF to show.
func FromExtensionState(es extstate.State) State {
    switch es {
    case extstate.Removed:
        return Invalid
    case extstate.Deactivated:
        return Unknown
    case extstate.Idle:
        return NotInUse
    case extstate.InUse:
        return InUse
    case extstate.Busy:
        return Busy
    case extstate.Unavailable:
        return Unavailable
    case extstate.Ringing:
        return Ringing
    case extstate.InUseRinging:
        return RingInUse
    case extstate.Hold:
        return OnHold
    case extstate.InUseHold:
        return OnHold
    default:
        return Unknown
    }
}
