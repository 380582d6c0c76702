package mediasession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/mediasession/shared"
	"go.uber.org/zap"
)

// Outcome is the resolution of one request run. Host failures are carried
// in Err and already reflected in the session state; Stale marks a result
// that was discarded because a newer intent superseded it.
type Outcome struct {
	Kind        MediaKind
	Status      PermissionStatus
	Constraints *StreamConstraints
	Err         error
	Stale       bool
}

// PermissionCoordinator resolves permission requests into granted or denied
// statuses and negotiated constraints.
type PermissionCoordinator struct {
	logger  shared.LoggerAdapter
	store   *sessionStore
	host    MediaHost
	ctrl    *CaptureSessionController
	metrics *Metrics
	width   int
	height  int

	mu      sync.Mutex
	ctx     context.Context
	stopped bool
	wg      sync.WaitGroup
}

func newPermissionCoordinator(
	logger shared.LoggerAdapter,
	store *sessionStore,
	host MediaHost,
	ctrl *CaptureSessionController,
	metrics *Metrics,
	cfg Config,
) *PermissionCoordinator {
	c := &PermissionCoordinator{
		logger:  logger.With(zap.String("component", "permission-coordinator")),
		store:   store,
		host:    host,
		ctrl:    ctrl,
		metrics: metrics,
		width:   cfg.Width,
		height:  cfg.Height,
		ctx:     context.Background(),
	}
	store.onTrigger = c.autoRequest
	return c
}

// bind sets the context automatic runs execute under.
func (c *PermissionCoordinator) bind(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
	c.stopped = false
}

// stop refuses further automatic runs and waits for the running ones.
func (c *PermissionCoordinator) stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.wg.Wait()
}

// wait blocks until no automatic run is in flight.
func (c *PermissionCoordinator) wait() {
	c.wg.Wait()
}

// RequestAccess runs the request protocol for kind. Any earlier run for the
// same kind still in flight becomes stale.
func (c *PermissionCoordinator) RequestAccess(ctx context.Context, kind MediaKind) Outcome {
	t, err := c.store.begin(kind)
	if err != nil {
		return Outcome{Kind: kind, Err: err}
	}
	return c.run(ctx, t)
}

func (c *PermissionCoordinator) autoRequest(t ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Debug("automatic camera request", zap.Uint64("generation", t.generation))
		c.run(ctx, t)
	}()
}

func (c *PermissionCoordinator) run(ctx context.Context, t ticket) Outcome {
	logger := c.logger.With(
		zap.String("kind", t.kind.String()),
		zap.Uint64("generation", t.generation),
	)
	logger.Debug("permission request started")
	caps := c.host.Capabilities()

	if caps.EnumerateDevices == Available {
		c.enumerate(ctx, logger, t)
	} else {
		logger.Debug("device enumeration unsupported, keeping selector")
	}

	probe, t, ok := c.store.prepare(t, c.width, c.height)
	if !ok {
		return c.discard(logger, t)
	}

	// The previous stream has to be stopped before the device is opened again.
	c.ctrl.release("renegotiate")

	var (
		handle StreamHandle
		err    error
	)
	if caps.AcquireStream == Available {
		handle, err = c.host.AcquireStream(ctx, probe)
	} else {
		err = shared.ErrUnsupported
	}
	if err == nil && handle == nil {
		err = fmt.Errorf("host returned no stream: %w", shared.ErrHardware)
	}
	if err != nil {
		return c.deny(logger, t, err)
	}
	return c.grant(logger, t, probe, handle)
}

func (c *PermissionCoordinator) enumerate(ctx context.Context, logger shared.LoggerAdapter, t ticket) {
	devices, err := c.host.EnumerateDevices(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrUnsupported) {
			logger.Debug("device enumeration unsupported, keeping selector")
		} else {
			logger.Error("enumerating devices", err, zap.String("class", shared.Classify(err)))
		}
		return
	}
	cameras := make([]DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		if d.Kind == MediaKindCamera {
			cameras = append(cameras, d)
		}
	}
	selector, ok := c.store.applyEnumeration(t, cameras)
	if !ok {
		logger.Debug("enumeration result discarded")
		return
	}
	logger.Debug("devices enumerated",
		zap.Int("cameras", len(cameras)),
		zap.Stringer("selector", selector),
	)
}

func (c *PermissionCoordinator) grant(logger shared.LoggerAdapter, t ticket, probe StreamConstraints, handle StreamHandle) Outcome {
	var stored StreamConstraints
	ok := c.ctrl.bind(t, handle, func(st *SessionState) {
		st.setPermission(t.kind, PermissionGranted)
		stored = StreamConstraints{}
		if probe.Video != nil && st.CameraPermission == PermissionGranted {
			stored.Video = probe.Video
		}
		if probe.Audio != nil && !st.IsMuted && st.MicrophonePermission == PermissionGranted {
			stored.Audio = probe.Audio
		}
		active := stored.clone()
		st.Constraints = &active
	})
	if !ok {
		return c.discard(logger, t)
	}
	c.metrics.observeRequest(t.kind, "granted")
	logger.Info("permission granted",
		zap.Bool("video", stored.Video != nil),
		zap.Bool("audio", stored.Audio != nil),
		zap.String("stream", handle.ID()),
	)
	return Outcome{Kind: t.kind, Status: PermissionGranted, Constraints: &stored}
}

func (c *PermissionCoordinator) deny(logger shared.LoggerAdapter, t ticket, cause error) Outcome {
	ok := c.ctrl.bind(t, nil, func(st *SessionState) {
		st.setPermission(t.kind, PermissionDenied)
		st.Constraints = nil
	})
	if !ok {
		return c.discard(logger, t)
	}
	class := shared.Classify(cause)
	c.metrics.observeRequest(t.kind, class)
	if class == shared.ClassUnexpected {
		logger.Error("acquiring stream", cause, zap.String("class", class))
	} else {
		logger.Warn("permission denied", zap.String("class", class), zap.Error(cause))
	}
	c.store.report(t.kind, class, cause)
	return Outcome{Kind: t.kind, Status: PermissionDenied, Err: cause}
}

func (c *PermissionCoordinator) discard(logger shared.LoggerAdapter, t ticket) Outcome {
	c.metrics.observeRequest(t.kind, "stale")
	logger.Debug("request superseded, result discarded")
	return Outcome{Kind: t.kind, Err: shared.ErrStaleRequest, Stale: true}
}
