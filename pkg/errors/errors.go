package errors

import (
    "fmt"
    "runtime"
    "strings"
)

type ErrorCode string

const (
    // ErrTransport covers network/HTTP layer faults talking to a PBX:
    // connection refused, DNS failure, non-2xx, truncated body. Retryable.
    ErrTransport ErrorCode = "TRANSPORT_ERROR"

    // ErrProtocol covers a malformed AMI response, or a Response field that
    // is not the expected value for the action. Retryable.
    ErrProtocol ErrorCode = "AMI_PROTOCOL_ERROR"

    // ErrAuth is a protocol error raised specifically on the Login action.
    // Handled identically to ErrProtocol by callers.
    ErrAuth ErrorCode = "AMI_AUTH_ERROR"

    // ErrConfiguration is raised only at startup, never during a session.
    ErrConfiguration ErrorCode = "CONFIG_ERROR"

    // ErrInternal is a catch-all for invariant violations that should
    // never happen (and therefore should not be silently retried).
    ErrInternal ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
    Code    ErrorCode
    Message string
    Err     error
    Context map[string]interface{}
    Stack   string
}

func New(code ErrorCode, message string) *AppError {
    return &AppError{
        Code:    code,
        Message: message,
        Context: make(map[string]interface{}),
        Stack:   getStack(),
    }
}

func Wrap(err error, code ErrorCode, message string) *AppError {
    if err == nil {
        return nil
    }

    // If already an AppError, enhance it rather than burying it another
    // level deep.
    if appErr, ok := err.(*AppError); ok {
        appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
        return appErr
    }

    return &AppError{
        Code:    code,
        Message: message,
        Err:     err,
        Context: make(map[string]interface{}),
        Stack:   getStack(),
    }
}

func (e *AppError) Error() string {
    if e.Err != nil {
        return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
    }
    return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
    return e.Err
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
    e.Context[key] = value
    return e
}

// IsRetryable reports whether TryOrWait should sleep-and-retry on this
// error rather than letting it propagate and tear down the session.
func (e *AppError) IsRetryable() bool {
    switch e.Code {
    case ErrTransport, ErrProtocol, ErrAuth:
        return true
    default:
        return false
    }
}

func getStack() string {
    var pcs [32]uintptr
    n := runtime.Callers(3, pcs[:])

    var builder strings.Builder
    frames := runtime.CallersFrames(pcs[:n])

    for {
        frame, more := frames.Next()
        if !strings.Contains(frame.File, "runtime/") {
            builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
        }
        if !more {
            break
        }
    }

    return builder.String()
}

// Is reports whether err is an *AppError carrying the given code.
func Is(err error, code ErrorCode) bool {
    if err == nil {
        return false
    }

    appErr, ok := err.(*AppError)
    if !ok {
        return false
    }

    return appErr.Code == code
}

// IsRetryable reports whether err should be retried by TryOrWait. Errors
// that are not *AppError (including context.Canceled/DeadlineExceeded) are
// never retryable here — cancellation is handled by the caller checking
// ctx.Err() directly, not by this classification.
func IsRetryable(err error) bool {
    appErr, ok := err.(*AppError)
    if !ok {
        return false
    }
    return appErr.IsRetryable()
}
