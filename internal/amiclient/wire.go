package amiclient

import (
    "fmt"
    "strings"

    apperrors "github.com/cloudtel/asterisk-blf-sync/pkg/errors"
)

func protocolError(message string) error {
    return apperrors.New(apperrors.ErrProtocol, message)
}

// kv is one "Key: Value" line within a result set, in the order it was
// received.
type kv struct {
    key   string
    value string
}

// resultSet is one CRLF-terminated block of "Key: Value" lines: either a
// response set (carries "Response") or an event set (carries "Event").
type resultSet struct {
    fields []kv
}

// get returns the single value for key (case-insensitive). Unlike the
// last-wins semantics applied across repeated result sets in an
// enumeration, a duplicate key *within* one result set is an error here —
// AMI never legitimately repeats a scalar field inside one block, and
// silently picking one would hide a parser desync.
func (rs resultSet) get(key string) (string, error) {
    var found string
    var count int
    for _, f := range rs.fields {
        if strings.EqualFold(f.key, key) {
            found = f.value
            count++
        }
    }
    switch count {
    case 0:
        return "", fmt.Errorf("amiclient: missing field %q", key)
    case 1:
        return found, nil
    default:
        return "", fmt.Errorf("amiclient: duplicate field %q", key)
    }
}

// has reports whether key is present at all, without erroring on
// duplicates.
func (rs resultSet) has(key string) bool {
    for _, f := range rs.fields {
        if strings.EqualFold(f.key, key) {
            return true
        }
    }
    return false
}

// messages joins every "Message" field in the set with "\n", newest last,
// per spec.md §6 ("newline-joined if repeated").
func (rs resultSet) messages() string {
    var parts []string
    for _, f := range rs.fields {
        if strings.EqualFold(f.key, "Message") {
            parts = append(parts, f.value)
        }
    }
    return strings.Join(parts, "\n")
}

// parseBlock parses one block of CRLF-terminated "Key: Value" lines.
func parseBlock(block string) resultSet {
    var rs resultSet
    for _, line := range strings.Split(block, "\r\n") {
        if line == "" {
            continue
        }
        idx := strings.IndexByte(line, ':')
        if idx < 0 {
            continue
        }
        key := strings.TrimSpace(line[:idx])
        value := strings.TrimSpace(line[idx+1:])
        rs.fields = append(rs.fields, kv{key: key, value: value})
    }
    return rs
}

// splitBlocks splits a raw rawman response body on the "\r\n\r\n" result
// set separator, discarding any wholly-empty blocks produced by a trailing
// separator.
func splitBlocks(raw string) []string {
    parts := strings.Split(raw, "\r\n\r\n")
    out := parts[:0]
    for _, p := range parts {
        if strings.TrimSpace(p) != "" {
            out = append(out, p)
        }
    }
    return out
}

// hasRogueMarker detects the "\n\r\n\r" byte sequence the source parser
// treats as "multiple result sets in a single result set" — an unusual
// marker relative to the normal "\r\n\r\n" separator between events, but
// one real clients have been observed to hit on malformed/concatenated
// AMI output. Preserved verbatim per spec.md §9 rather than "fixed".
func hasRogueMarker(raw string) bool {
    return strings.Contains(raw, "\n\r\n\r")
}

// parseSingleResponse parses raw as exactly one result set (the shape
// returned by Login, SetVar, and any other non-enumerating action).
func parseSingleResponse(raw string) (resultSet, error) {
    if hasRogueMarker(raw) {
        return resultSet{}, protocolError("multiple result sets in non-enumeration response")
    }

    blocks := splitBlocks(raw)
    if len(blocks) != 1 {
        return resultSet{}, protocolError(fmt.Sprintf("expected exactly one result set, got %d", len(blocks)))
    }

    rs := parseBlock(blocks[0])
    if !rs.has("Response") {
        return resultSet{}, protocolError("response missing Response field")
    }
    return rs, nil
}

// checkResponse validates rs against the value AMI is expected to return
// for the given action, per spec.md §6's per-action exceptions (Ping →
// Pong, Logoff → Goodbye, everything else → Success).
func checkResponse(action string, rs resultSet) error {
    want := "Success"
    switch strings.ToLower(action) {
    case "ping":
        want = "Pong"
    case "logoff":
        want = "Goodbye"
    }

    got, err := rs.get("Response")
    if err != nil {
        return protocolError(err.Error())
    }

    if !strings.EqualFold(got, want) {
        msg := rs.messages()
        if msg == "" {
            msg = fmt.Sprintf("unexpected Response value %q", got)
        }
        return protocolError(msg)
    }
    return nil
}

// completionEventName returns the default completion event name for
// action, honoring WaitEvent's documented exception.
func completionEventName(action string) string {
    if strings.EqualFold(action, "WaitEvent") {
        return "WaitEventComplete"
    }
    return action + "Complete"
}

// parseEnumeration parses raw as one response set (must be Success)
// followed by zero or more event sets, terminated by a completion event
// whose Event field equals the expected name for action.
func parseEnumeration(action string, raw string) (response resultSet, events []resultSet, err error) {
    blocks := splitBlocks(raw)
    if len(blocks) == 0 {
        return resultSet{}, nil, protocolError("enumeration response has no result sets")
    }

    response = parseBlock(blocks[0])
    if err := checkResponse(action, response); err != nil {
        return resultSet{}, nil, err
    }

    rest := make([]resultSet, 0, len(blocks)-1)
    for _, b := range blocks[1:] {
        rest = append(rest, parseBlock(b))
    }

    if len(rest) == 0 {
        return resultSet{}, nil, protocolError("enumeration response missing completion event")
    }

    last := rest[len(rest)-1]
    eventName, err := last.get("Event")
    if err != nil || !last.has("Event") {
        return resultSet{}, nil, protocolError("final result set is not an event")
    }

    want := completionEventName(action)
    if !strings.EqualFold(eventName, want) {
        return resultSet{}, nil, protocolError(fmt.Sprintf("expected completion event %q, got %q", want, eventName))
    }

    return response, rest[:len(rest)-1], nil
}
