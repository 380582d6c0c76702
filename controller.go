package mediasession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/mediasession/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CaptureSessionController owns mute state, device switching, the bound
// live stream and the last captured image.
type CaptureSessionController struct {
	logger   shared.LoggerAdapter
	store    *sessionStore
	capturer FrameCapturer
	metrics  *Metrics

	mu        sync.Mutex
	image     *CapturedImage
	listeners []ImageListener
}

func newCaptureSessionController(logger shared.LoggerAdapter, store *sessionStore, capturer FrameCapturer, metrics *Metrics) *CaptureSessionController {
	return &CaptureSessionController{
		logger:   logger.With(zap.String("component", "capture-controller")),
		store:    store,
		capturer: capturer,
		metrics:  metrics,
	}
}

func (c *CaptureSessionController) onImage(l ImageListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// SwitchDevice selects device, or toggles the facing mode when device is
// nil. The device list is cleared and the camera status reset to changed,
// which re-runs the camera request.
func (c *CaptureSessionController) SwitchDevice(device *DeviceDescriptor) error {
	var selector CameraSelector
	prev, fired, err := c.store.invalidate(func(st *SessionState) error {
		switch {
		case device != nil:
			if device.Kind != MediaKindCamera || !c.store.knownCameraLocked(device.ID) {
				return fmt.Errorf("switching to %q: %w", device.ID, shared.ErrUnknownDevice)
			}
			st.Selector = DeviceSelector(device.ID)
		case st.Selector.IsExplicit():
			st.Selector = FacingSelector(FacingUser)
		default:
			st.Selector = FacingSelector(st.Selector.Facing().Opposite())
		}
		st.AvailableDevices = nil
		st.CameraPermission = PermissionChanged
		selector = st.Selector
		return nil
	})
	if err != nil {
		c.logger.Warn("switch device rejected", zap.Error(err))
		return err
	}
	c.closeStream(prev, true, "switch device")
	c.logger.Info("device switched", zap.Stringer("selector", selector))
	c.store.finish(fired)
	return nil
}

// ToggleMute flips the mute flag and drops the negotiated constraints.
func (c *CaptureSessionController) ToggleMute() error {
	var muted bool
	prev, fired, err := c.store.invalidate(func(st *SessionState) error {
		st.IsMuted = !st.IsMuted
		muted = st.IsMuted
		return nil
	})
	if err != nil {
		return err
	}
	c.closeStream(prev, true, "toggle mute")
	c.logger.Info("mute toggled", zap.Bool("muted", muted))
	c.store.finish(fired)
	return nil
}

// CaptureImage grabs a still frame from the bound stream. Without a live
// video stream it fails softly with shared.ErrNoActiveStream and the last
// image is kept.
func (c *CaptureSessionController) CaptureImage(ctx context.Context) (*CapturedImage, error) {
	stream, ok := c.store.activeStream()
	if !ok {
		c.metrics.observeCapture(shared.ClassNoActiveStream)
		c.logger.Warn("capture skipped", zap.String("class", shared.ClassNoActiveStream))
		return nil, shared.ErrNoActiveStream
	}
	if c.capturer == nil {
		c.metrics.observeCapture(shared.ClassUnsupported)
		return nil, fmt.Errorf("capturing frame: %w", shared.ErrUnsupported)
	}
	img, err := c.capturer.CaptureFrame(ctx, stream)
	if err == nil && img == nil {
		err = shared.ErrNoActiveStream
	}
	if err != nil {
		class := shared.Classify(err)
		c.metrics.observeCapture(class)
		c.logger.Warn("capture failed", zap.String("class", class), zap.Error(err))
		return nil, err
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.CapturedAt.IsZero() {
		img.CapturedAt = time.Now()
	}
	if img.Format == "" {
		img.Format = ImageFormatJPEG
	}

	c.mu.Lock()
	c.image = img
	listeners := append([]ImageListener(nil), c.listeners...)
	c.mu.Unlock()

	c.metrics.observeCapture("captured")
	c.logger.Info("image captured",
		zap.String("image", img.ID),
		zap.Int("bytes", len(img.Data)),
		zap.String("stream", stream.ID()),
	)
	for _, l := range listeners {
		l(img)
	}
	return img, nil
}

// Image returns the last captured image, or nil.
func (c *CaptureSessionController) Image() *CapturedImage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

// bind settles a request run and swaps the bound stream. A stale run gets
// its own handle closed and leaves the session untouched.
func (c *CaptureSessionController) bind(t ticket, handle StreamHandle, apply func(st *SessionState)) bool {
	prev, fired, ok := c.store.settle(t, apply, handle)
	if !ok {
		c.closeStream(handle, false, "stale result")
		return false
	}
	c.closeStream(prev, true, "rebind")
	if handle != nil {
		c.metrics.streamBound(1)
	}
	c.store.finish(fired)
	return true
}

func (c *CaptureSessionController) release(reason string) {
	c.closeStream(c.store.takeStream(), true, reason)
}

func (c *CaptureSessionController) closeStream(h StreamHandle, bound bool, reason string) {
	if h == nil {
		return
	}
	if bound {
		c.metrics.streamBound(-1)
	}
	if err := h.Close(); err != nil {
		c.logger.Error("closing stream", err, zap.String("stream", h.ID()), zap.String("reason", reason))
		return
	}
	c.logger.Debug("stream released", zap.String("stream", h.ID()), zap.String("reason", reason))
}
