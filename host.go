package mediasession

import (
	"context"
)

// Availability is the typed result of a capability probe.
type Availability int

const (
	Unsupported Availability = iota
	Available
)

func (a Availability) String() string {
	if a == Available {
		return "available"
	}
	return "unsupported"
}

type Capabilities struct {
	EnumerateDevices Availability
	AcquireStream    Availability
}

// StreamHandle is a live capture stream owned by the host. Close stops
// every track of the stream.
type StreamHandle interface {
	ID() string
	Close() error
}

// MediaHost is the host's media access service.
//
// EnumerateDevices fails with shared.ErrUnsupported when the host cannot
// list devices. AcquireStream fails with shared.ErrPermissionDenied,
// shared.ErrNotFound or shared.ErrHardware.
type MediaHost interface {
	Capabilities() Capabilities
	EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error)
	AcquireStream(ctx context.Context, constraints StreamConstraints) (StreamHandle, error)
}

// FrameCapturer grabs a still image from a live stream. It fails with
// shared.ErrNoActiveStream when the stream carries no video.
type FrameCapturer interface {
	CaptureFrame(ctx context.Context, stream StreamHandle) (*CapturedImage, error)
}

// Transcriber is a speech-to-text service with its own lifecycle. The
// session never gates on it.
type Transcriber interface {
	Start(ctx context.Context) error
	Stop() error
	OnTranscript(handler func(text string))
}

type AnalyticsEvent struct {
	EventType     string `json:"eventType"`
	ActionType    string `json:"actionType"`
	PageName      string `json:"pageName"`
	PageType      string `json:"pageType"`
	ComponentName string `json:"componentName"`
	ComponentType string `json:"componentType"`
}

// AnalyticsSink records events fire-and-forget. Implementations swallow
// their own failures.
type AnalyticsSink interface {
	RecordEvent(ctx context.Context, event AnalyticsEvent)
}

type (
	StateListener   func(state SessionState)
	ImageListener   func(image *CapturedImage)
	FailureListener func(kind MediaKind, class string, err error)
)
