package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/bt-bridge/mediasession"
	"github.com/bt-bridge/mediasession/shared"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	integrated = mediasession.DeviceDescriptor{ID: "cam-0", Label: "Integrated Webcam", Kind: mediasession.MediaKindCamera}
	usb        = mediasession.DeviceDescriptor{ID: "cam-1", Label: "USB Camera", Kind: mediasession.MediaKindCamera}
	rear       = mediasession.DeviceDescriptor{ID: "cam-2", Label: "Rear Camera", Kind: mediasession.MediaKindCamera}
)

func newTestHost(t *testing.T, infos []mediadevices.MediaDeviceInfo) (*DeviceHost, *[]mediadevices.MediaStreamConstraints) {
	t.Helper()
	h, err := NewDeviceHost(shared.NewNopLogger())
	require.NoError(t, err)
	var seen []mediadevices.MediaStreamConstraints
	h.enumerate = func() []mediadevices.MediaDeviceInfo { return infos }
	h.getUserMedia = func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		seen = append(seen, c)
		return mediadevices.NewMediaStream()
	}
	return h, &seen
}

func applied(opt mediadevices.MediaOption) *mediadevices.MediaTrackConstraints {
	if opt == nil {
		return nil
	}
	var c mediadevices.MediaTrackConstraints
	opt(&c)
	return &c
}

func TestNewDeviceHost(t *testing.T) {
	_, err := NewDeviceHost(nil)
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	h, err := NewDeviceHost(shared.NewNopLogger())
	require.NoError(t, err)
	caps := h.Capabilities()
	assert.Equal(t, mediasession.Available, caps.EnumerateDevices)
	assert.Equal(t, mediasession.Available, caps.AcquireStream)
}

func TestEnumerateDevices(t *testing.T) {
	h, _ := newTestHost(t, []mediadevices.MediaDeviceInfo{
		{DeviceID: "cam-0", Kind: mediadevices.VideoInput, Label: "Integrated Webcam"},
		{DeviceID: "mic-0", Kind: mediadevices.AudioInput, Label: "Built-in Microphone"},
		{DeviceID: "spk-0", Kind: mediadevices.AudioOutput, Label: "Speakers"},
		{DeviceID: "cam-1", Kind: mediadevices.VideoInput},
	})

	devices, err := h.EnumerateDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []mediasession.DeviceDescriptor{
		{ID: "cam-0", Label: "Integrated Webcam", Kind: mediasession.MediaKindCamera},
		{ID: "mic-0", Label: "Built-in Microphone", Kind: mediasession.MediaKindMicrophone},
		{ID: "cam-1", Label: "cam-1", Kind: mediasession.MediaKindCamera},
	}, devices)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.EnumerateDevices(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveFacing(t *testing.T) {
	tests := []struct {
		name     string
		mode     mediasession.FacingMode
		cameras  []mediasession.DeviceDescriptor
		expected string
	}{
		{name: "no cameras", mode: mediasession.FacingUser, expected: ""},
		{name: "user by label", mode: mediasession.FacingUser, cameras: []mediasession.DeviceDescriptor{usb, integrated}, expected: "cam-0"},
		{name: "user falls back to first", mode: mediasession.FacingUser, cameras: []mediasession.DeviceDescriptor{usb, rear}, expected: "cam-1"},
		{name: "environment by label", mode: mediasession.FacingEnvironment, cameras: []mediasession.DeviceDescriptor{rear, integrated}, expected: "cam-2"},
		{name: "environment falls back to last", mode: mediasession.FacingEnvironment, cameras: []mediasession.DeviceDescriptor{integrated, usb}, expected: "cam-1"},
		{name: "environment with a single camera", mode: mediasession.FacingEnvironment, cameras: []mediasession.DeviceDescriptor{usb}, expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveFacing(tt.mode, tt.cameras))
		})
	}
}

func TestMediaConstraints(t *testing.T) {
	t.Run("explicit device with audio", func(t *testing.T) {
		out := MediaConstraints(mediasession.StreamConstraints{
			Video: &mediasession.VideoSpec{Width: 640, Height: 480, Selector: mediasession.DeviceSelector("cam-7")},
			Audio: &mediasession.AudioSpec{EchoCancellation: true},
		}, nil)

		video := applied(out.Video)
		require.NotNil(t, video)
		assert.Equal(t, prop.StringExact("cam-7"), video.DeviceID)
		assert.Equal(t, prop.Int(640), video.Width)
		assert.Equal(t, prop.Int(480), video.Height)
		audio := applied(out.Audio)
		require.NotNil(t, audio)
		assert.Equal(t, prop.Int(MicSampleRate), audio.SampleRate)
		assert.Equal(t, prop.Int(MicChannelCount), audio.ChannelCount)
	})

	t.Run("audio only", func(t *testing.T) {
		out := MediaConstraints(mediasession.StreamConstraints{Audio: &mediasession.AudioSpec{}}, nil)
		assert.Nil(t, out.Video)
		assert.NotNil(t, out.Audio)
	})

	t.Run("facing without a match leaves the device open", func(t *testing.T) {
		out := MediaConstraints(mediasession.StreamConstraints{
			Video: &mediasession.VideoSpec{Width: 640, Height: 480, Selector: mediasession.FacingSelector(mediasession.FacingEnvironment)},
		}, []mediasession.DeviceDescriptor{usb})
		video := applied(out.Video)
		require.NotNil(t, video)
		assert.Nil(t, video.DeviceID)
		assert.Nil(t, out.Audio)
	})
}

func TestAcquireStream(t *testing.T) {
	h, seen := newTestHost(t, []mediadevices.MediaDeviceInfo{
		{DeviceID: "cam-0", Kind: mediadevices.VideoInput, Label: "Integrated Webcam"},
	})

	handle, err := h.AcquireStream(context.Background(), mediasession.StreamConstraints{
		Video: &mediasession.VideoSpec{Width: 640, Height: 480, Selector: mediasession.FacingSelector(mediasession.FacingUser)},
	})
	require.NoError(t, err)
	require.Len(t, *seen, 1)
	assert.NotEmpty(t, handle.ID())
	assert.NoError(t, handle.Close())
	assert.NoError(t, handle.Close())

	_, err = h.AcquireStream(context.Background(), mediasession.StreamConstraints{})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Len(t, *seen, 1)
}

func TestAcquireStreamClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "missing driver", err: errors.New("failed to find the best driver that fits the constraints"), expected: shared.ErrNotFound},
		{name: "permission", err: errors.New("camera access denied by user"), expected: shared.ErrPermissionDenied},
		{name: "busy device", err: errors.New("device or resource busy"), expected: shared.ErrHardware},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHost(t, nil)
			h.getUserMedia = func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
				return nil, tt.err
			}
			_, err := h.AcquireStream(context.Background(), mediasession.StreamConstraints{Audio: &mediasession.AudioSpec{}})
			assert.ErrorIs(t, err, tt.expected)
			assert.Equal(t, shared.Classify(tt.expected), shared.Classify(err))
		})
	}
}
