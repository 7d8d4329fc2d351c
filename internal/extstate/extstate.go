// Package extstate implements the ExtensionState enumeration AMI reports
// for a dialplan extension: a bitmasked hook/ringing/hold status.
package extstate

import (
    "fmt"
    "strconv"
    "strings"
)

// State is one of the closed set of extension-status codes AMI emits on
// ExtensionStateList / WaitEvent events.
type State int

const (
    Removed       State = -2
    Deactivated   State = -1
    Idle          State = 0
    InUse         State = 1
    Busy          State = 2
    Unavailable   State = 4
    Ringing       State = 8
    InUseRinging  State = 9
    Hold          State = 16
    InUseHold     State = 17
)

var names = map[State]string{
    Removed:      "Removed",
    Deactivated:  "Deactivated",
    Idle:         "Idle",
    InUse:        "InUse",
    Busy:         "Busy",
    Unavailable:  "Unavailable",
    Ringing:      "Ringing",
    InUseRinging: "InUse&Ringing",
    Hold:         "Hold",
    InUseHold:    "InUse&Hold",
}

// String renders the canonical AMI token for s, using "&" as the
// inuse/ringing/hold separator (the form AMI itself emits).
func (s State) String() string {
    if name, ok := names[s]; ok {
        return name
    }
    return fmt.Sprintf("ExtensionState(%d)", int(s))
}

// Parse parses an AMI "Status" token into a State. Parsing is
// case-insensitive, and "&" is treated identically to "_" so that
// "InUse&Ringing" and "InUse_Ringing" parse the same way. A bare integer
// token (as sometimes sent instead of the symbolic name) is also accepted.
func Parse(token string) (State, error) {
    norm := strings.ToLower(strings.ReplaceAll(token, "&", "_"))

    for s, name := range names {
        if strings.ToLower(strings.ReplaceAll(name, "&", "_")) == norm {
            return s, nil
        }
    }

    if n, err := strconv.Atoi(strings.TrimSpace(token)); err == nil {
        if _, ok := names[State(n)]; ok {
            return State(n), nil
        }
        return State(n), nil
    }

    return 0, fmt.Errorf("extstate: unrecognized status %q", token)
}
