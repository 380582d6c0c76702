package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bt-bridge/mediasession"
	"github.com/bt-bridge/mediasession/shared"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// Microphone capture parameters used whenever audio is negotiated.
const (
	MicSampleRate   = 48000
	MicChannelCount = 1
	MicSampleSize   = 16
)

// DeviceHost is the mediadevices-backed host media service. Drivers are
// registered by blank-importing mediadevices driver packages.
type DeviceHost struct {
	logger       shared.LoggerAdapter
	enumerate    func() []mediadevices.MediaDeviceInfo
	getUserMedia func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
}

var _ mediasession.MediaHost = (*DeviceHost)(nil)

func NewDeviceHost(logger shared.LoggerAdapter) (*DeviceHost, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &DeviceHost{
		logger:       logger.With(zap.String("component", "device-host")),
		enumerate:    mediadevices.EnumerateDevices,
		getUserMedia: mediadevices.GetUserMedia,
	}, nil
}

func (h *DeviceHost) Capabilities() mediasession.Capabilities {
	return mediasession.Capabilities{
		EnumerateDevices: mediasession.Available,
		AcquireStream:    mediasession.Available,
	}
}

func (h *DeviceHost) EnumerateDevices(ctx context.Context) ([]mediasession.DeviceDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos := h.enumerate()
	devices := make([]mediasession.DeviceDescriptor, 0, len(infos))
	for _, info := range infos {
		var kind mediasession.MediaKind
		switch info.Kind {
		case mediadevices.VideoInput:
			kind = mediasession.MediaKindCamera
		case mediadevices.AudioInput:
			kind = mediasession.MediaKindMicrophone
		default:
			continue
		}
		label := info.Label
		if label == "" {
			label = info.DeviceID
		}
		devices = append(devices, mediasession.DeviceDescriptor{ID: info.DeviceID, Label: label, Kind: kind})
	}
	return devices, nil
}

func (h *DeviceHost) AcquireStream(ctx context.Context, c mediasession.StreamConstraints) (mediasession.StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Video == nil && c.Audio == nil {
		return nil, fmt.Errorf("acquiring stream without tracks: %w", shared.ErrNotFound)
	}
	var cameras []mediasession.DeviceDescriptor
	if c.Video != nil && !c.Video.Selector.IsExplicit() {
		devices, _ := h.EnumerateDevices(ctx)
		for _, d := range devices {
			if d.Kind == mediasession.MediaKindCamera {
				cameras = append(cameras, d)
			}
		}
	}
	if c.Audio != nil && c.Audio.EchoCancellation {
		h.logger.Debug("echo cancellation is left to the audio driver")
	}
	stream, err := h.getUserMedia(MediaConstraints(c, cameras))
	if err != nil {
		return nil, ClassifyMediaError(err)
	}
	s := &MediaStream{id: uuid.NewString(), stream: stream}
	h.logger.Debug("stream acquired",
		zap.String("stream", s.id),
		zap.Int("videoTracks", len(stream.GetVideoTracks())),
		zap.Int("audioTracks", len(stream.GetAudioTracks())),
	)
	return s, nil
}

// MediaConstraints translates negotiated constraints into getUserMedia
// options. Facing modes are resolved against cameras since mediadevices
// selects by device id only.
func MediaConstraints(c mediasession.StreamConstraints, cameras []mediasession.DeviceDescriptor) mediadevices.MediaStreamConstraints {
	var out mediadevices.MediaStreamConstraints
	if v := c.Video; v != nil {
		deviceID := v.Selector.DeviceID()
		if !v.Selector.IsExplicit() {
			deviceID = ResolveFacing(v.Selector.Facing(), cameras)
		}
		width, height := v.Width, v.Height
		out.Video = func(m *mediadevices.MediaTrackConstraints) {
			m.Width = prop.Int(width)
			m.Height = prop.Int(height)
			if deviceID != "" {
				m.DeviceID = prop.StringExact(deviceID)
			}
		}
	}
	if c.Audio != nil {
		out.Audio = func(m *mediadevices.MediaTrackConstraints) {
			m.SampleRate = prop.Int(MicSampleRate)
			m.ChannelCount = prop.Int(MicChannelCount)
			m.SampleSize = prop.Int(MicSampleSize)
		}
	}
	return out
}

var (
	userLabels        = []string{"front", "user", "face", "integrated", "built-in"}
	environmentLabels = []string{"back", "rear", "environment", "world"}
)

// ResolveFacing picks the camera for a facing mode by label, falling back
// to the first camera for "user" and the last one for "environment". An
// empty id leaves the choice to the driver.
func ResolveFacing(mode mediasession.FacingMode, cameras []mediasession.DeviceDescriptor) string {
	if len(cameras) == 0 {
		return ""
	}
	hints := userLabels
	if mode == mediasession.FacingEnvironment {
		hints = environmentLabels
	}
	for _, d := range cameras {
		label := strings.ToLower(d.Label)
		for _, hint := range hints {
			if strings.Contains(label, hint) {
				return d.ID
			}
		}
	}
	if mode == mediasession.FacingEnvironment {
		if len(cameras) < 2 {
			return ""
		}
		return cameras[len(cameras)-1].ID
	}
	return cameras[0].ID
}

// ClassifyMediaError maps a driver error onto the shared failure classes.
// mediadevices reports failures as plain strings, so the message decides.
func ClassifyMediaError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"), strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %v", shared.ErrPermissionDenied, err)
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "not found"), strings.Contains(msg, "no such"):
		return fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrHardware, err)
}

// MediaStream is the handle returned by DeviceHost.
type MediaStream struct {
	id     string
	stream mediadevices.MediaStream

	once sync.Once
	err  error
}

var _ mediasession.StreamHandle = (*MediaStream)(nil)

func (s *MediaStream) ID() string {
	return s.id
}

// Close stops every track. It is safe to call more than once.
func (s *MediaStream) Close() error {
	s.once.Do(func() {
		var errs []error
		for _, track := range s.stream.GetTracks() {
			if err := track.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing track %s: %w", track.ID(), err))
			}
		}
		s.err = errors.Join(errs...)
	})
	return s.err
}

func (s *MediaStream) videoTrack() (*mediadevices.VideoTrack, bool) {
	for _, track := range s.stream.GetVideoTracks() {
		if vt, ok := track.(*mediadevices.VideoTrack); ok {
			return vt, true
		}
	}
	return nil, false
}
