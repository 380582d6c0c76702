package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bt-bridge/mediasession/shared"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// EncodedReader is the read side of an encoded mediadevices track.
type EncodedReader interface {
	Read() (mediadevices.EncodedBuffer, func(), error)
}

// SampleWriter accepts encoded media samples, typically a
// webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

// StreamLocalAudio encodes mediaTrack with mimeType and forwards every
// frame to sink until ctx is done or the track ends.
func StreamLocalAudio(ctx context.Context, logger shared.LoggerAdapter, sink SampleWriter, mediaTrack mediadevices.Track, mimeType string, frameDuration time.Duration) error {
	reader, err := mediaTrack.NewEncodedReader(mimeType)
	if err != nil {
		return fmt.Errorf("creating media track reader: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return PumpSamples(ctx, logger, reader, sink, frameDuration)
}

// PumpSamples copies encoded frames from r to w. Empty frames are skipped
// and write failures are logged without ending the pump.
func PumpSamples(ctx context.Context, logger shared.LoggerAdapter, r EncodedReader, w SampleWriter, frameDuration time.Duration) error {
	var written int
	defer func() {
		logger.Debug("audio pump finished", zap.Int("frames", written))
	}()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		buf, release, err := r.Read()
		if err != nil {
			if release != nil {
				release()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading from media track: %w", err)
		}
		if buf.Samples == 0 || len(buf.Data) == 0 {
			release()
			continue
		}
		err = w.WriteSample(media.Sample{
			Data:     append([]byte(nil), buf.Data...),
			Duration: frameDuration,
		})
		release()
		if err != nil {
			logger.Warn("writing sample to track", zap.Error(err))
			continue
		}
		written++
	}
}
