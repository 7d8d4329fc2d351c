// Package extmap implements the pure extension-identifier-to-device-name
// transform: given an extension and its reported status, decide the
// Custom: device name and the DeviceState to forward for it.
package extmap

import (
    "regexp"

    "github.com/cloudtel/asterisk-blf-sync/internal/devicestate"
    "github.com/cloudtel/asterisk-blf-sync/internal/extstate"
)

// Mapper turns AMI extension events into device-state targets, driven by a
// compiled extensionPattern and a deviceFormat substitution template (as
// configured per-server — see config.ServerConfig).
type Mapper struct {
    pattern *regexp.Regexp
    format  []byte
}

// New retains the already-compiled pattern and format for later
// substitution. format
// uses regexp.Expand syntax: $0 is the whole match, $1... are capture
// groups.
func New(pattern *regexp.Regexp, format string) *Mapper {
    return &Mapper{pattern: pattern, format: []byte(format)}
}

// Event is one extension-status line as reported by AMI.
type Event struct {
    Exten  string
    Status string
}

// Map applies step 1-3 of the mapping algorithm to a single event: pattern
// filtering, device-name substitution, and status parsing. ok is false if
// Exten does not match the pattern (event should be dropped) or Status
// fails to parse.
func (m *Mapper) Map(ev Event) (device string, state devicestate.State, ok bool) {
    loc := m.pattern.FindStringSubmatchIndex(ev.Exten)
    if loc == nil {
        return "", 0, false
    }

    es, err := extstate.Parse(ev.Status)
    if err != nil {
        return "", 0, false
    }

    dst := m.pattern.ExpandString(nil, string(m.format), ev.Exten, loc)

    return string(dst), devicestate.FromExtensionState(es), true
}

// MapBatch applies Map across a batch of events, coalescing multiple
// matches for the same computed device with last-one-wins semantics (step
// 4 of the mapping algorithm). The returned map's iteration order is
// irrelevant — callers forward it as an unordered batch.
func MapBatch(m *Mapper, events []Event) map[string]devicestate.State {
    out := make(map[string]devicestate.State)
    for _, ev := range events {
        if device, state, ok := m.Map(ev); ok {
            out[device] = state
        }
    }
    return out
}
