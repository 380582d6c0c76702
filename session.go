package mediasession

import (
	"context"
	"slices"
	"sync"

	"github.com/bt-bridge/mediasession/shared"
)

// ticket identifies one run of the request protocol. A run is current while
// its kind's generation and the intent epoch are unchanged.
type ticket struct {
	kind       MediaKind
	generation uint64
	epoch      uint64
}

// triggerKey is what the automatic camera request reacts to.
type triggerKey struct {
	selector      CameraSelector
	microphone    PermissionStatus
	muted         bool
	cameraChanged bool
}

// supersedes ignores the changed→granted edge so a run's own result never
// re-triggers it.
func (k triggerKey) supersedes(prev triggerKey) bool {
	return k.selector != prev.selector ||
		k.microphone != prev.microphone ||
		k.muted != prev.muted ||
		(k.cameraChanged && !prev.cameraChanged)
}

// sessionStore holds the state shared by the coordinator and the controller.
type sessionStore struct {
	mu              sync.Mutex
	state           SessionState
	defaultFacing   FacingMode
	lastEnumeration []DeviceDescriptor
	enumerated      bool
	generation      [2]uint64
	epoch           uint64
	trigger         triggerKey
	stream          StreamHandle
	closed          bool

	onTrigger func(t ticket)
	listeners []StateListener
	failed    []FailureListener
	pending   []failure
	latest    SessionState
	notify    chan struct{}
}

type failure struct {
	kind  MediaKind
	class string
	err   error
}

func newSessionStore(cfg Config) *sessionStore {
	s := &sessionStore{
		state: SessionState{
			CameraPermission:     PermissionChecking,
			MicrophonePermission: PermissionChecking,
			Selector:             FacingSelector(cfg.DefaultFacing),
			IsMuted:              cfg.StartMuted,
		},
		defaultFacing: cfg.DefaultFacing,
		notify:        make(chan struct{}, 1),
	}
	s.trigger = s.keyLocked()
	s.latest = s.state.clone()
	return s
}

func (s *sessionStore) snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *sessionStore) subscribe(l StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *sessionStore) onFailure(l FailureListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, l)
}

// report queues a failure for the dispatcher. Listeners never run on the
// goroutine of the request that failed.
func (s *sessionStore) report(kind MediaKind, class string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, failure{kind: kind, class: class, err: err})
	s.signalLocked()
}

func (s *sessionStore) signalLocked() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dispatch delivers the latest snapshot, then any queued failures, to
// listeners until ctx ends. Bursts of state changes are coalesced.
func (s *sessionStore) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		st := s.latest
		listeners := slices.Clone(s.listeners)
		failed := slices.Clone(s.failed)
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		for _, l := range listeners {
			l(st)
		}
		for _, f := range pending {
			for _, l := range failed {
				l(f.kind, f.class, f.err)
			}
		}
	}
}

func (s *sessionStore) keyLocked() triggerKey {
	return triggerKey{
		selector:      s.state.Selector,
		microphone:    s.state.MicrophonePermission,
		muted:         s.state.IsMuted,
		cameraChanged: s.state.CameraPermission == PermissionChanged,
	}
}

func (s *sessionStore) beginLocked(kind MediaKind) ticket {
	s.generation[kind]++
	return ticket{kind: kind, generation: s.generation[kind], epoch: s.epoch}
}

func (s *sessionStore) begin(kind MediaKind) (ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ticket{}, shared.ErrSessionClosed
	}
	return s.beginLocked(kind), nil
}

func (s *sessionStore) currentLocked(t ticket) bool {
	return !s.closed && s.generation[t.kind] == t.generation && s.epoch == t.epoch
}

// commitLocked re-evaluates the automatic camera request and publishes the
// new state. The caller must call finish with the result after unlocking.
func (s *sessionStore) commitLocked() *ticket {
	key := s.keyLocked()
	prev := s.trigger
	s.trigger = key
	s.latest = s.state.clone()
	s.signalLocked()
	if !s.state.CameraPermission.Actionable() || !key.supersedes(prev) {
		return nil
	}
	t := s.beginLocked(MediaKindCamera)
	return &t
}

func (s *sessionStore) finish(fired *ticket) {
	if fired != nil && s.onTrigger != nil {
		s.onTrigger(*fired)
	}
}

func (s *sessionStore) mutate(fn func(st *SessionState)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return shared.ErrSessionClosed
	}
	fn(&s.state)
	fired := s.commitLocked()
	s.mu.Unlock()
	s.finish(fired)
	return nil
}

// invalidate applies an intent that makes any acquired stream obsolete: the
// constraints are cleared, the epoch moves on and the bound stream is
// handed back. The caller releases it before calling finish so that the
// automatic request never opens a device that is still held.
func (s *sessionStore) invalidate(fn func(st *SessionState) error) (StreamHandle, *ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, shared.ErrSessionClosed
	}
	if err := fn(&s.state); err != nil {
		return nil, nil, err
	}
	s.epoch++
	s.state.Constraints = nil
	prev := s.stream
	s.stream = nil
	return prev, s.commitLocked(), nil
}

// knownCameraLocked reports whether id was in the last enumeration.
func (s *sessionStore) knownCameraLocked(id string) bool {
	return slices.ContainsFunc(s.lastEnumeration, func(d DeviceDescriptor) bool {
		return d.ID == id
	})
}

// applyEnumeration publishes a camera list. The first enumeration selects
// its first device; later ones never re-apply that default but drop an
// explicit selection that disappeared. Neither selector change re-triggers
// the run that caused it.
func (s *sessionStore) applyEnumeration(t ticket, cameras []DeviceDescriptor) (selector CameraSelector, ok bool) {
	s.mu.Lock()
	if s.closed || s.generation[t.kind] != t.generation {
		s.mu.Unlock()
		return CameraSelector{}, false
	}
	s.lastEnumeration = slices.Clone(cameras)
	s.state.AvailableDevices = slices.Clone(cameras)
	switch {
	case !s.enumerated:
		s.enumerated = true
		if len(cameras) > 0 {
			s.state.Selector = DeviceSelector(cameras[0].ID)
		}
	case s.state.Selector.IsExplicit() && !s.knownCameraLocked(s.state.Selector.DeviceID()):
		s.state.Selector = FacingSelector(s.defaultFacing)
	}
	s.trigger.selector = s.state.Selector
	selector = s.state.Selector
	fired := s.commitLocked()
	s.mu.Unlock()
	s.finish(fired)
	return selector, true
}

// prepare builds the acquisition constraints for t and pins the epoch the
// result will be checked against.
func (s *sessionStore) prepare(t ticket, width, height int) (StreamConstraints, ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.generation[t.kind] != t.generation {
		return StreamConstraints{}, t, false
	}
	t.epoch = s.epoch
	st := s.state
	var probe StreamConstraints
	if t.kind == MediaKindCamera || st.CameraPermission == PermissionGranted {
		probe.Video = &VideoSpec{Width: width, Height: height, Selector: st.Selector}
	}
	if t.kind == MediaKindMicrophone || st.MicrophonePermission == PermissionGranted || !st.IsMuted {
		probe.Audio = &AudioSpec{EchoCancellation: true}
	}
	return probe, t, true
}

// settle applies the result of t if it is still current, binding handle in
// place of the previous stream. As with invalidate the caller releases prev
// and then calls finish.
func (s *sessionStore) settle(t ticket, apply func(st *SessionState), handle StreamHandle) (prev StreamHandle, fired *ticket, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(t) {
		return nil, nil, false
	}
	apply(&s.state)
	prev = s.stream
	s.stream = handle
	return prev, s.commitLocked(), true
}

func (s *sessionStore) takeStream() StreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.stream
	s.stream = nil
	return h
}

// activeStream returns the bound stream when a live video stream is
// negotiated.
func (s *sessionStore) activeStream() (StreamHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.CameraPermission != PermissionGranted || st.Constraints == nil || st.Constraints.Video == nil || s.stream == nil {
		return nil, false
	}
	return s.stream, true
}

func (s *sessionStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close discards the state and hands back the bound stream.
func (s *sessionStore) close() StreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	h := s.stream
	s.stream = nil
	s.state.Constraints = nil
	return h
}
