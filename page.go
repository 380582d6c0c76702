package mediasession

import (
	"context"
	"sync"

	"github.com/bt-bridge/mediasession/shared"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Analytics values recorded when the page appears.
const (
	AnalyticsEventAppear  = "appear"
	AnalyticsActionOpen   = "open"
	AnalyticsPageScreen   = "Screen"
	AnalyticsComponentTag = "Page"
)

type Options struct {
	Config      Config
	Host        MediaHost
	Capturer    FrameCapturer
	Transcriber Transcriber
	Analytics   AnalyticsSink
	// Registerer receives the session metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Page is one mounted instance of the capture page. It owns the session
// state, both components and the external service handles.
type Page struct {
	id          string
	logger      shared.LoggerAdapter
	cfg         Config
	store       *sessionStore
	coordinator *PermissionCoordinator
	controller  *CaptureSessionController
	transcriber Transcriber
	analytics   AnalyticsSink
	host        MediaHost

	mu           sync.Mutex
	mounted      bool
	cancel       context.CancelFunc
	transcribing bool
}

func NewPage(logger shared.LoggerAdapter, opts Options) (*Page, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.Host == nil {
		return nil, shared.ErrNoHost
	}
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("page", id))
	metrics := NewMetrics(opts.Registerer)
	store := newSessionStore(cfg)
	controller := newCaptureSessionController(logger, store, opts.Capturer, metrics)
	coordinator := newPermissionCoordinator(logger, store, opts.Host, controller, metrics, cfg)
	return &Page{
		id:          id,
		logger:      logger,
		cfg:         cfg,
		store:       store,
		coordinator: coordinator,
		controller:  controller,
		transcriber: opts.Transcriber,
		analytics:   opts.Analytics,
		host:        opts.Host,
	}, nil
}

func (p *Page) ID() string {
	return p.id
}

func (p *Page) Config() Config {
	return p.cfg
}

// Mount activates the page: it starts state delivery, probes the host and
// records the appear event. A page is mounted at most once: after Unmount
// its session is gone and Mount fails with shared.ErrSessionClosed.
func (p *Page) Mount(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mounted {
		return shared.ErrAlreadyRunning
	}
	if p.store.isClosed() {
		return shared.ErrSessionClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mounted = true
	p.coordinator.bind(ctx)
	go p.store.dispatch(ctx)

	caps := p.host.Capabilities()
	p.logger.Info("page mounted",
		zap.Stringer("enumerate", caps.EnumerateDevices),
		zap.Stringer("acquire", caps.AcquireStream),
	)
	if caps.AcquireStream == Unsupported {
		// Nothing can be checked on this host.
		if err := p.store.mutate(func(st *SessionState) {
			st.CameraPermission = PermissionUnknown
			st.MicrophonePermission = PermissionUnknown
		}); err != nil {
			return err
		}
	}

	if p.analytics != nil {
		p.analytics.RecordEvent(ctx, AnalyticsEvent{
			EventType:     AnalyticsEventAppear,
			ActionType:    AnalyticsActionOpen,
			PageName:      p.cfg.PageName,
			PageType:      AnalyticsPageScreen,
			ComponentName: AnalyticsComponentTag,
		})
	}
	return nil
}

// Unmount stops transcription, releases the live stream and discards the
// session. Every later intent fails with shared.ErrSessionClosed.
func (p *Page) Unmount() error {
	p.mu.Lock()
	if !p.mounted {
		p.mu.Unlock()
		return shared.ErrNotRunning
	}
	p.mounted = false
	transcribing := p.transcribing
	p.transcribing = false
	p.mu.Unlock()

	if transcribing && p.transcriber != nil {
		if err := p.transcriber.Stop(); err != nil {
			p.logger.Error("stopping transcriber", err)
		}
	}
	h := p.store.close()
	p.cancel()
	p.coordinator.stop()
	p.controller.closeStream(h, true, "unmount")
	p.logger.Info("page unmounted")
	return nil
}

func (p *Page) RequestAccess(ctx context.Context, kind MediaKind) Outcome {
	return p.coordinator.RequestAccess(ctx, kind)
}

func (p *Page) SwitchDevice(device *DeviceDescriptor) error {
	return p.controller.SwitchDevice(device)
}

func (p *Page) ToggleMute() error {
	return p.controller.ToggleMute()
}

func (p *Page) CaptureImage(ctx context.Context) (*CapturedImage, error) {
	return p.controller.CaptureImage(ctx)
}

func (p *Page) State() SessionState {
	return p.store.snapshot()
}

func (p *Page) Image() *CapturedImage {
	return p.controller.Image()
}

// Settle waits for automatic requests in flight.
func (p *Page) Settle() {
	p.coordinator.wait()
}

func (p *Page) Subscribe(l StateListener) {
	p.store.subscribe(l)
}

func (p *Page) OnImage(l ImageListener) {
	p.controller.onImage(l)
}

// OnFailure registers l for denied requests. Failures are delivered by the
// same goroutine as state changes, after the state that records them.
func (p *Page) OnFailure(l FailureListener) {
	p.store.onFailure(l)
}

func (p *Page) OnTranscript(handler func(text string)) error {
	if p.transcriber == nil {
		return shared.ErrUnsupported
	}
	p.transcriber.OnTranscript(handler)
	return nil
}

func (p *Page) StartTranscription(ctx context.Context) error {
	if p.transcriber == nil {
		return shared.ErrUnsupported
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.mounted {
		return shared.ErrSessionClosed
	}
	if p.transcribing {
		return shared.ErrAlreadyRunning
	}
	if err := p.transcriber.Start(ctx); err != nil {
		p.logger.Error("starting transcriber", err)
		return err
	}
	p.transcribing = true
	return nil
}

func (p *Page) StopTranscription() error {
	if p.transcriber == nil {
		return shared.ErrUnsupported
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.transcribing {
		return shared.ErrNotRunning
	}
	p.transcribing = false
	if err := p.transcriber.Stop(); err != nil {
		p.logger.Error("stopping transcriber", err)
		return err
	}
	return nil
}
