package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/mediasession"
	"github.com/bt-bridge/mediasession/shared"
	"github.com/bt-bridge/mediasession/tools"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Microphone is an opened, opus-encodable microphone track.
type Microphone struct {
	Track         mediadevices.Track
	FrameDuration time.Duration
}

// MicrophoneOpener opens the microphone for a transcription session.
type MicrophoneOpener func() (*Microphone, error)

var getUserMedia = mediadevices.GetUserMedia

// OpenMicrophone grabs the default microphone with an opus encoder
// attached.
func OpenMicrophone() (*Microphone, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("creating opus params: %w", err)
	}
	stream, err := getUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(tools.MicSampleRate)
			c.ChannelCount = prop.Int(tools.MicChannelCount)
			c.SampleSize = prop.Int(tools.MicSampleSize)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("opening microphone: %w", tools.ClassifyMediaError(err))
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no audio track in microphone stream: %w", shared.ErrNotFound)
	}
	return &Microphone{Track: tracks[0], FrameDuration: time.Duration(opusParams.Latency)}, nil
}

type TranscriberConfig struct {
	APIKey  string
	BaseURL string
	Session SessionConfig
	// Interim forwards partial transcripts as they arrive.
	Interim bool
}

// Transcriber turns microphone speech into text through a realtime
// session.
type Transcriber struct {
	logger  shared.LoggerAdapter
	cfg     TranscriberConfig
	openMic MicrophoneOpener

	mu       sync.Mutex
	handlers []func(string)
	client   *Client
	mic      *Microphone
	cancel   context.CancelFunc
	running  bool
}

var _ mediasession.Transcriber = (*Transcriber)(nil)

func NewTranscriber(logger shared.LoggerAdapter, cfg TranscriberConfig, openMic MicrophoneOpener) (*Transcriber, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if openMic == nil {
		openMic = OpenMicrophone
	}
	return &Transcriber{
		logger:  logger.With(zap.String("component", "transcriber")),
		cfg:     cfg,
		openMic: openMic,
	}, nil
}

func (t *Transcriber) OnTranscript(handler func(text string)) {
	if handler == nil {
		return
	}
	t.mu.Lock()
	t.handlers = append(t.handlers, handler)
	t.mu.Unlock()
}

func (t *Transcriber) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return shared.ErrAlreadyRunning
	}
	mic, err := t.openMic()
	if err != nil {
		return fmt.Errorf("opening microphone: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	client, err := t.connect(ctx, mic)
	if err != nil {
		cancel()
		_ = mic.Track.Close()
		return err
	}
	t.client, t.mic, t.cancel, t.running = client, mic, cancel, true
	t.logger.Info("transcription started",
		zap.String("language", LanguageCode(t.cfg.Session.Language)),
		zap.Int("frameSamples", tools.FrameSamples(mic.FrameDuration, tools.MicSampleRate, tools.MicChannelCount)),
	)
	return nil
}

func (t *Transcriber) connect(ctx context.Context, mic *Microphone) (*Client, error) {
	client, err := NewClient(ctx, t.logger, t.cfg.APIKey, t.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	setup := func() error {
		if err := client.SetConfig(t.cfg.Session.Params()); err != nil {
			return err
		}
		if err := client.RegisterTrackLocalHandler(func(track *webrtc.TrackLocalStaticSample) {
			err := tools.StreamLocalAudio(ctx, t.logger, track, mic.Track, track.Codec().MimeType, mic.FrameDuration)
			if err != nil {
				t.logger.Error("streaming microphone audio", err)
			}
		}); err != nil {
			return err
		}
		if err := client.RegisterEventHandler(t.handleEvent); err != nil {
			return err
		}
		return client.Start()
	}
	if err := setup(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("starting realtime session: %w", err)
	}
	return client, nil
}

func (t *Transcriber) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return shared.ErrNotRunning
	}
	client, mic, cancel := t.client, t.mic, t.cancel
	t.client, t.mic, t.cancel, t.running = nil, nil, nil, false
	t.mu.Unlock()

	cancel()
	var errs []error
	if err := client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing client: %w", err))
	}
	if err := mic.Track.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing microphone: %w", err))
	}
	t.logger.Info("transcription stopped")
	return errors.Join(errs...)
}

func (t *Transcriber) handleEvent(event *Event) {
	switch p := event.Param.(type) {
	case *TranscriptionCompletedParam:
		if p.Transcript != "" {
			t.emit(p.Transcript)
		}
	case *TranscriptionDeltaParam:
		if t.cfg.Interim && p.Delta != "" {
			t.emit(p.Delta)
		}
	case *TranscriptionFailedParam:
		t.logger.Warn("transcription failed", zap.String("item", p.ItemId), zap.String("reason", p.Message))
	case *ErrorParam:
		t.logger.Error("realtime session error", p, zap.String("code", p.Code))
	case *SessionParam:
		t.logger.Debug("session event", zap.String("type", string(event.Type)))
	}
}

func (t *Transcriber) emit(text string) {
	t.mu.Lock()
	handlers := make([]func(string), len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()
	for _, h := range handlers {
		h(text)
	}
}
