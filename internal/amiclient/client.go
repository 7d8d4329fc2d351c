// Package amiclient is a thin request/response layer over HTTP against
// Asterisk's rawman endpoint. It exposes exactly the four AMI operations
// the reconciliation engine needs (login, list device states, list
// extension states, wait for extension change) plus set-device-state; it
// is deliberately not a general AMI client.
package amiclient

import (
    "context"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"

    "github.com/cloudtel/asterisk-blf-sync/internal/devicestate"
    "github.com/cloudtel/asterisk-blf-sync/internal/extmap"
    apperrors "github.com/cloudtel/asterisk-blf-sync/pkg/errors"
)

// Client talks rawman HTTP to a single Asterisk server.
type Client struct {
    httpClient *http.Client
    baseURL    string
    timeout    time.Duration
    mapper     *extmap.Mapper
}

// New returns a Client for the given rawman base URL (e.g.
// "http://10.0.0.1:8088/asterisk"), bounding every request by timeout and
// transforming extension events through mapper.
func New(baseURL string, timeout time.Duration, mapper *extmap.Mapper) *Client {
    return &Client{
        httpClient: &http.Client{},
        baseURL:    baseURL,
        timeout:    timeout,
        mapper:     mapper,
    }
}

// do issues a GET request for action with the given parameters, bounded by
// c.timeout measured from call entry, and returns the raw response body.
// A non-2xx status or any transport failure is reported as ErrTransport.
func (c *Client) do(ctx context.Context, action string, params map[string]string) (string, error) {
    ctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()

    q := url.Values{}
    q.Set("action", action)
    for k, v := range params {
        q.Set(k, v)
    }

    reqURL := fmt.Sprintf("%s/rawman?%s", c.baseURL, q.Encode())

    req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
    if err != nil {
        return "", apperrors.Wrap(err, apperrors.ErrTransport, "failed to build AMI request")
    }

    resp, err := c.httpClient.Do(req)
    if err != nil {
        return "", apperrors.Wrap(err, apperrors.ErrTransport, "AMI request failed")
    }
    defer resp.Body.Close()

    body, err := io.ReadAll(resp.Body)
    if err != nil {
        return "", apperrors.Wrap(err, apperrors.ErrTransport, "failed to read AMI response body")
    }

    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        return "", apperrors.New(apperrors.ErrTransport, fmt.Sprintf("AMI returned HTTP %d", resp.StatusCode))
    }

    return string(body), nil
}

// Login authenticates against the AMI. A rejected login is an AuthError,
// not a plain ProtocolError, even though the two are handled identically
// by callers (spec.md §7).
func (c *Client) Login(ctx context.Context, username, secret string) error {
    raw, err := c.do(ctx, "Login", map[string]string{
        "Username": username,
        "Secret":   secret,
    })
    if err != nil {
        return err
    }

    rs, err := parseSingleResponse(raw)
    if err != nil {
        authErr := apperrors.New(apperrors.ErrAuth, "AMI login failed")
        authErr.Err = err
        return authErr
    }

    if err := checkResponse("Login", rs); err != nil {
        authErr := apperrors.New(apperrors.ErrAuth, "AMI login rejected")
        authErr.Err = err
        return authErr
    }

    return nil
}

// ListDeviceStates issues DeviceStateChange with no parameters, which
// Asterisk treats as "enumerate current device states". Duplicate devices
// within the response apply last-wins.
func (c *Client) ListDeviceStates(ctx context.Context) (map[string]devicestate.State, error) {
    raw, err := c.do(ctx, "DeviceStateChange", nil)
    if err != nil {
        return nil, err
    }

    _, events, err := parseEnumeration("DeviceStateChange", raw)
    if err != nil {
        return nil, err
    }

    out := make(map[string]devicestate.State)
    for _, ev := range events {
        kind, err := ev.get("Event")
        if err != nil || !strings.EqualFold(kind, "DeviceStateChange") {
            continue
        }

        device, err := ev.get("Device")
        if err != nil {
            continue
        }
        stateStr, err := ev.get("State")
        if err != nil {
            continue
        }

        state, err := devicestate.Parse(stateStr)
        if err != nil {
            continue
        }

        out[device] = state // last occurrence wins
    }

    return out, nil
}

// ListExtensionStates issues ExtensionStateList and transforms every
// resulting {Exten, Status} event through the server's extmap.Mapper (see
// spec.md §4.2), applying last-wins per computed device.
func (c *Client) ListExtensionStates(ctx context.Context) (map[string]devicestate.State, error) {
    raw, err := c.do(ctx, "ExtensionStateList", nil)
    if err != nil {
        return nil, err
    }

    _, events, err := parseEnumeration("ExtensionStateList", raw)
    if err != nil {
        return nil, err
    }

    return c.mapEvents(events), nil
}

// WaitForExtensionChanges issues WaitEvent, which may block server-side up
// to the configured timeout. An empty result is legal — it just means
// nothing changed during the long-poll window.
func (c *Client) WaitForExtensionChanges(ctx context.Context) (map[string]devicestate.State, error) {
    raw, err := c.do(ctx, "WaitEvent", nil)
    if err != nil {
        return nil, err
    }

    _, events, err := parseEnumeration("WaitEvent", raw)
    if err != nil {
        return nil, err
    }

    return c.mapEvents(events), nil
}

func (c *Client) mapEvents(events []resultSet) map[string]devicestate.State {
    batch := make([]extmap.Event, 0, len(events))
    for _, ev := range events {
        exten, err := ev.get("Exten")
        if err != nil {
            continue
        }
        status, err := ev.get("Status")
        if err != nil {
            continue
        }
        batch = append(batch, extmap.Event{Exten: exten, Status: status})
    }
    return extmap.MapBatch(c.mapper, batch)
}

// SetDeviceState issues SetVar to write DEVICE_STATE(device) = state.
func (c *Client) SetDeviceState(ctx context.Context, device string, state devicestate.State) error {
    raw, err := c.do(ctx, "SetVar", map[string]string{
        "Variable": fmt.Sprintf("DEVICE_STATE(%s)", device),
        "Value":    state.String(),
    })
    if err != nil {
        return err
    }

    rs, err := parseSingleResponse(raw)
    if err != nil {
        return err
    }

    return checkResponse("SetVar", rs)
}
