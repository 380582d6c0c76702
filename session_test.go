package mediasession

import (
	"testing"

	"github.com/bt-bridge/mediasession/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerKeySupersedes(t *testing.T) {
	base := triggerKey{
		selector:   FacingSelector(FacingUser),
		microphone: PermissionUnknown,
		muted:      true,
	}
	tests := []struct {
		name     string
		mutate   func(k *triggerKey)
		expected bool
	}{
		{name: "unchanged", mutate: func(*triggerKey) {}, expected: false},
		{name: "selector", mutate: func(k *triggerKey) { k.selector = DeviceSelector("cam") }, expected: true},
		{name: "microphone status", mutate: func(k *triggerKey) { k.microphone = PermissionGranted }, expected: true},
		{name: "mute flag", mutate: func(k *triggerKey) { k.muted = false }, expected: true},
		{name: "camera became changed", mutate: func(k *triggerKey) { k.cameraChanged = true }, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := base
			tt.mutate(&next)
			assert.Equal(t, tt.expected, next.supersedes(base))
		})
	}

	changed := base
	changed.cameraChanged = true
	assert.False(t, base.supersedes(changed), "changed to granted must not re-trigger")
}

func TestSessionStoreTickets(t *testing.T) {
	s := newSessionStore(DefaultConfig())
	first, err := s.begin(MediaKindCamera)
	require.NoError(t, err)
	second, err := s.begin(MediaKindCamera)
	require.NoError(t, err)
	mic, err := s.begin(MediaKindMicrophone)
	require.NoError(t, err)

	s.mu.Lock()
	assert.False(t, s.currentLocked(first))
	assert.True(t, s.currentLocked(second))
	assert.True(t, s.currentLocked(mic))
	s.mu.Unlock()

	_, fired, err := s.invalidate(func(st *SessionState) error {
		st.IsMuted = false
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, fired, "camera still checking")

	s.mu.Lock()
	assert.False(t, s.currentLocked(second), "epoch moved on")
	s.mu.Unlock()

	s.close()
	_, err = s.begin(MediaKindCamera)
	assert.ErrorIs(t, err, shared.ErrSessionClosed)
	assert.ErrorIs(t, s.mutate(func(*SessionState) {}), shared.ErrSessionClosed)
}

func TestApplyEnumerationDefaultsOnce(t *testing.T) {
	s := newSessionStore(DefaultConfig())
	cams := []DeviceDescriptor{
		{ID: "a", Label: "A", Kind: MediaKindCamera},
		{ID: "b", Label: "B", Kind: MediaKindCamera},
	}
	t1, err := s.begin(MediaKindCamera)
	require.NoError(t, err)
	sel, ok := s.applyEnumeration(t1, cams)
	require.True(t, ok)
	assert.Equal(t, DeviceSelector("a"), sel)

	require.NoError(t, s.mutate(func(st *SessionState) { st.Selector = DeviceSelector("b") }))
	t2, err := s.begin(MediaKindCamera)
	require.NoError(t, err)
	sel, ok = s.applyEnumeration(t2, cams)
	require.True(t, ok)
	assert.Equal(t, DeviceSelector("b"), sel, "default applies only on the first enumeration")

	t3, err := s.begin(MediaKindCamera)
	require.NoError(t, err)
	sel, ok = s.applyEnumeration(t3, cams[:1])
	require.True(t, ok)
	assert.Equal(t, FacingSelector(FacingUser), sel)

	_, ok = s.applyEnumeration(t1, cams)
	assert.False(t, ok, "superseded run")
}
