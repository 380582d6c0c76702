package tools

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bt-bridge/mediasession/shared"
	"github.com/pion/mediadevices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type foreignHandle struct{}

func (foreignHandle) ID() string   { return "foreign" }
func (foreignHandle) Close() error { return nil }

func TestNewFrameGrabber(t *testing.T) {
	_, err := NewFrameGrabber(nil, 90)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
	for _, q := range []int{0, 101} {
		_, err = NewFrameGrabber(shared.NewNopLogger(), q)
		assert.Error(t, err, "quality %d", q)
	}
	_, err = NewFrameGrabber(shared.NewNopLogger(), 100)
	assert.NoError(t, err)
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 128, A: 255})
		}
	}

	data, err := EncodeJPEG(img, 100)
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
	assert.Equal(t, 48, decoded.Bounds().Dy())

	low, err := EncodeJPEG(img, 10)
	require.NoError(t, err)
	assert.Less(t, len(low), len(data))

	_, err = EncodeJPEG(nil, 100)
	assert.Error(t, err)
}

func TestCaptureFrameRejectsUnusableStreams(t *testing.T) {
	g, err := NewFrameGrabber(shared.NewNopLogger(), 100)
	require.NoError(t, err)

	_, err = g.CaptureFrame(context.Background(), foreignHandle{})
	assert.ErrorIs(t, err, shared.ErrUnsupported)

	empty, err := mediadevices.NewMediaStream()
	require.NoError(t, err)
	_, err = g.CaptureFrame(context.Background(), &MediaStream{id: "audio-only", stream: empty})
	assert.ErrorIs(t, err, shared.ErrNoActiveStream)
}

func TestGrabSharesBlockedRead(t *testing.T) {
	g, err := NewFrameGrabber(shared.NewNopLogger(), 80)
	require.NoError(t, err)

	var calls atomic.Int32
	unblock := make(chan struct{})
	read := func() (image.Image, func(), error) {
		calls.Add(1)
		<-unblock
		return image.NewRGBA(image.Rect(0, 0, 4, 2)), nil, nil
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.grab(cancelled, "stream-1", read)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load(), "cancelled capture never starts a read")

	for range 3 {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err = g.grab(ctx, "stream-1", read)
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, int32(1), calls.Load(), "abandoned captures share one read")

	close(unblock)
	res, err := g.grab(context.Background(), "stream-1", read)
	require.NoError(t, err)
	assert.Equal(t, 4, res.width)
	assert.Equal(t, 2, res.height)
	assert.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.inflight) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestGrabReportsReadError(t *testing.T) {
	g, err := NewFrameGrabber(shared.NewNopLogger(), 80)
	require.NoError(t, err)
	_, err = g.grab(context.Background(), "stream-1", func() (image.Image, func(), error) {
		return nil, nil, io.EOF
	})
	assert.ErrorIs(t, err, io.EOF)
}
