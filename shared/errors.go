package shared

import "errors"

var (
	ErrNoLogger             = errors.New("no logger provided")
	ErrNoConfig             = errors.New("no config provided")
	ErrNoHost               = errors.New("no media host provided")
	ErrNoAPIKey             = errors.New("no API key provided")
	ErrClientNotInitialized = errors.New("client not initialized")
	ErrNoEventHandler       = errors.New("no event handler provided")
	ErrAlreadyRunning       = errors.New("already running")
	ErrNotRunning           = errors.New("not running")
	ErrTLHandlerAlreadySet  = errors.New("track local handler already set")
	ErrEHandlerAlreadySet   = errors.New("event handler already set")
	ErrSessionClosed        = errors.New("session closed")
	ErrStaleRequest         = errors.New("request superseded")

	// Host media failures.
	ErrUnsupported      = errors.New("not supported by host")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("requested device not found")
	ErrHardware         = errors.New("hardware error")
	ErrNoActiveStream   = errors.New("no active stream")
	ErrUnknownDevice    = errors.New("device not in the latest enumeration")
)

// Error classes reported to logs, metrics and the presentation layer.
const (
	ClassNone             = ""
	ClassPermissionDenied = "permission_denied"
	ClassNotFound         = "not_found"
	ClassHardware         = "hardware"
	ClassUnsupported      = "unsupported"
	ClassNoActiveStream   = "no_active_stream"
	ClassUnexpected       = "unexpected"
)

// Classify maps an error returned by a host adapter to its class.
func Classify(err error) string {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrPermissionDenied):
		return ClassPermissionDenied
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrHardware):
		return ClassHardware
	case errors.Is(err, ErrUnsupported):
		return ClassUnsupported
	case errors.Is(err, ErrNoActiveStream):
		return ClassNoActiveStream
	}
	return ClassUnexpected
}
