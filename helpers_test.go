package mediasession

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bt-bridge/mediasession/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	frontCamera = DeviceDescriptor{ID: "cam-front", Label: "Front Camera", Kind: MediaKindCamera}
	backCamera  = DeviceDescriptor{ID: "cam-back", Label: "Back Camera", Kind: MediaKindCamera}
	builtinMic  = DeviceDescriptor{ID: "mic-0", Label: "Built-in Microphone", Kind: MediaKindMicrophone}
)

type fakeStream struct {
	id     string
	closed atomic.Bool
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type acquireCall struct {
	constraints StreamConstraints
	reply       chan error
}

// fakeHost scripts the host media service. With hold set every acquisition
// waits for the test to answer it on calls.
type fakeHost struct {
	mu       sync.Mutex
	caps     Capabilities
	devices  []DeviceDescriptor
	enumErr  error
	errs     []error
	hold     bool
	acquired []StreamConstraints
	streams  []*fakeStream
	calls    chan *acquireCall
}

func newFakeHost(devices ...DeviceDescriptor) *fakeHost {
	return &fakeHost{
		caps:    Capabilities{EnumerateDevices: Available, AcquireStream: Available},
		devices: devices,
		calls:   make(chan *acquireCall, 16),
	}
}

func (h *fakeHost) Capabilities() Capabilities {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caps
}

func (h *fakeHost) EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enumErr != nil {
		return nil, h.enumErr
	}
	return append([]DeviceDescriptor(nil), h.devices...), nil
}

func (h *fakeHost) AcquireStream(ctx context.Context, c StreamConstraints) (StreamHandle, error) {
	h.mu.Lock()
	h.acquired = append(h.acquired, c.clone())
	hold := h.hold
	var err error
	if len(h.errs) > 0 {
		err, h.errs = h.errs[0], h.errs[1:]
	}
	h.mu.Unlock()

	if hold {
		call := &acquireCall{constraints: c.clone(), reply: make(chan error, 1)}
		select {
		case h.calls <- call:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case err = <-call.reply:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &fakeStream{id: fmt.Sprintf("stream-%d", len(h.streams)+1)}
	h.streams = append(h.streams, s)
	return s, nil
}

func (h *fakeHost) set(fn func(h *fakeHost)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h)
}

func (h *fakeHost) acquisitions() []StreamConstraints {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]StreamConstraints(nil), h.acquired...)
}

func (h *fakeHost) openStreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.streams {
		if !s.closed.Load() {
			n++
		}
	}
	return n
}

func (h *fakeHost) stream(i int) *fakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[i]
}

func (h *fakeHost) nextCall(t *testing.T) *acquireCall {
	t.Helper()
	select {
	case call := <-h.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("no acquisition reached the host")
		return nil
	}
}

type fakeCapturer struct {
	mu    sync.Mutex
	err   error
	shots int
}

func (c *fakeCapturer) CaptureFrame(ctx context.Context, stream StreamHandle) (*CapturedImage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.shots++
	return &CapturedImage{
		Data:   []byte(fmt.Sprintf("jpeg-%d-%s", c.shots, stream.ID())),
		Width:  640,
		Height: 480,
	}, nil
}

type fakeTranscriber struct {
	mu      sync.Mutex
	started int
	stopped int
	handler func(string)
}

func (f *fakeTranscriber) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}

func (f *fakeTranscriber) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeTranscriber) OnTranscript(handler func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeTranscriber) emit(text string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(text)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []AnalyticsEvent
}

func (r *recordingSink) RecordEvent(ctx context.Context, event AnalyticsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) recorded() []AnalyticsEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AnalyticsEvent(nil), r.events...)
}

type pageFixture struct {
	page     *Page
	host     *fakeHost
	capturer *fakeCapturer
}

func newFixture(t *testing.T, cfg Config, host *fakeHost) *pageFixture {
	t.Helper()
	capturer := new(fakeCapturer)
	page, err := NewPage(shared.WrapZap(zaptest.NewLogger(t)), Options{
		Config:   cfg,
		Host:     host,
		Capturer: capturer,
	})
	require.NoError(t, err)
	require.NoError(t, page.Mount(context.Background()))
	t.Cleanup(func() {
		host.set(func(h *fakeHost) { h.hold = false })
		_ = page.Unmount()
	})
	return &pageFixture{page: page, host: host, capturer: capturer}
}

// assertInvariants checks the session invariants against the cameras the
// host has ever reported.
func assertInvariants(t *testing.T, st SessionState, known []DeviceDescriptor) {
	t.Helper()
	if c := st.Constraints; c != nil {
		if c.Video != nil {
			assert.Equal(t, PermissionGranted, st.CameraPermission, "video negotiated without camera permission")
		}
		if c.Audio != nil {
			assert.Equal(t, PermissionGranted, st.MicrophonePermission, "audio negotiated without microphone permission")
		}
		assert.True(t,
			st.CameraPermission == PermissionGranted || st.MicrophonePermission == PermissionGranted,
			"constraints present without any granted permission")
		if st.IsMuted {
			assert.Nil(t, c.Audio, "muted session carries audio")
		}
	}
	if st.Selector.IsExplicit() {
		found := false
		for _, d := range known {
			found = found || d.ID == st.Selector.DeviceID()
		}
		assert.True(t, found, "selector %s not in enumeration", st.Selector)
	}
}
