package mediasession

import (
	"slices"
	"time"
)

type PermissionStatus int

const (
	PermissionUnknown PermissionStatus = iota
	PermissionChecking
	PermissionGranted
	PermissionDenied
	// PermissionChanged marks a reset caused by a device switch. Unlike
	// PermissionUnknown it re-arms the automatic camera request.
	PermissionChanged
)

func (s PermissionStatus) String() string {
	switch s {
	case PermissionUnknown:
		return "unknown"
	case PermissionChecking:
		return "checking"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionChanged:
		return "changed"
	}
	return "invalid"
}

// Actionable reports whether an automatic request may run from this status.
func (s PermissionStatus) Actionable() bool {
	return s != PermissionChecking && s != PermissionDenied
}

type MediaKind int

const (
	MediaKindCamera MediaKind = iota
	MediaKindMicrophone
)

func (k MediaKind) String() string {
	switch k {
	case MediaKindCamera:
		return "camera"
	case MediaKindMicrophone:
		return "microphone"
	}
	return "invalid"
}

type DeviceDescriptor struct {
	ID    string    `json:"id" yaml:"id"`
	Label string    `json:"label" yaml:"label"`
	Kind  MediaKind `json:"kind" yaml:"kind"`
}

type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Opposite returns the other facing mode.
func (m FacingMode) Opposite() FacingMode {
	if m == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// CameraSelector picks a camera either by facing mode or by device id.
// Exactly one of the two is set; the zero value is invalid.
type CameraSelector struct {
	facing   FacingMode
	deviceID string
}

func FacingSelector(mode FacingMode) CameraSelector {
	return CameraSelector{facing: mode}
}

func DeviceSelector(id string) CameraSelector {
	return CameraSelector{deviceID: id}
}

func (s CameraSelector) IsExplicit() bool {
	return s.deviceID != ""
}

func (s CameraSelector) Facing() FacingMode {
	return s.facing
}

func (s CameraSelector) DeviceID() string {
	return s.deviceID
}

func (s CameraSelector) String() string {
	if s.IsExplicit() {
		return "device:" + s.deviceID
	}
	return "facing:" + string(s.facing)
}

func (s CameraSelector) MarshalYAML() (any, error) {
	return s.String(), nil
}

type VideoSpec struct {
	Width    int            `yaml:"width"`
	Height   int            `yaml:"height"`
	Selector CameraSelector `yaml:"selector"`
}

type AudioSpec struct {
	EchoCancellation bool `yaml:"echoCancellation"`
}

// StreamConstraints describes a stream to acquire. A nil track spec means
// the track is disabled.
type StreamConstraints struct {
	Video *VideoSpec `yaml:"video"`
	Audio *AudioSpec `yaml:"audio"`
}

func (c StreamConstraints) clone() StreamConstraints {
	out := StreamConstraints{}
	if c.Video != nil {
		v := *c.Video
		out.Video = &v
	}
	if c.Audio != nil {
		a := *c.Audio
		out.Audio = &a
	}
	return out
}

// SessionState is a snapshot of the page's media state. Values handed out
// by the package are copies and safe to keep.
type SessionState struct {
	CameraPermission     PermissionStatus   `yaml:"cameraPermission"`
	MicrophonePermission PermissionStatus   `yaml:"microphonePermission"`
	Selector             CameraSelector     `yaml:"selector"`
	IsMuted              bool               `yaml:"isMuted"`
	Constraints          *StreamConstraints `yaml:"constraints"`
	AvailableDevices     []DeviceDescriptor `yaml:"availableDevices"`
}

func (s SessionState) Permission(kind MediaKind) PermissionStatus {
	if kind == MediaKindMicrophone {
		return s.MicrophonePermission
	}
	return s.CameraPermission
}

func (s *SessionState) setPermission(kind MediaKind, status PermissionStatus) {
	if kind == MediaKindMicrophone {
		s.MicrophonePermission = status
		return
	}
	s.CameraPermission = status
}

func (s SessionState) clone() SessionState {
	out := s
	if s.Constraints != nil {
		c := s.Constraints.clone()
		out.Constraints = &c
	}
	out.AvailableDevices = slices.Clone(s.AvailableDevices)
	return out
}

func (s PermissionStatus) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (k MediaKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

const ImageFormatJPEG = "image/jpeg"

// CapturedImage is an encoded still frame. Each capture replaces the
// previous one.
type CapturedImage struct {
	ID         string
	Format     string
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}
