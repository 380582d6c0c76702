package tools

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/bt-bridge/mediasession"
	"github.com/bt-bridge/mediasession/shared"
	"go.uber.org/zap"
)

// FrameGrabber captures still images from the video track of a
// DeviceHost stream.
type FrameGrabber struct {
	logger  shared.LoggerAdapter
	quality int

	mu       sync.Mutex
	inflight map[string]*pendingFrame
}

var _ mediasession.FrameCapturer = (*FrameGrabber)(nil)

func NewFrameGrabber(logger shared.LoggerAdapter, quality int) (*FrameGrabber, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality %d out of range [1, 100]", quality)
	}
	return &FrameGrabber{
		logger:   logger.With(zap.String("component", "frame-grabber")),
		quality:  quality,
		inflight: make(map[string]*pendingFrame),
	}, nil
}

type grabbed struct {
	data          []byte
	width, height int
	err           error
}

// pendingFrame is one blocked track read. Callers that give up leave it
// running; later captures on the same stream wait for it instead of
// starting another. It ends with the next frame or when the track closes.
type pendingFrame struct {
	done chan struct{}
	res  grabbed
}

type frameReadFunc func() (image.Image, func(), error)

func (g *FrameGrabber) CaptureFrame(ctx context.Context, stream mediasession.StreamHandle) (*mediasession.CapturedImage, error) {
	ms, ok := stream.(*MediaStream)
	if !ok {
		return nil, fmt.Errorf("stream %T is not a device stream: %w", stream, shared.ErrUnsupported)
	}
	track, ok := ms.videoTrack()
	if !ok {
		return nil, fmt.Errorf("stream %s has no video track: %w", ms.ID(), shared.ErrNoActiveStream)
	}
	reader := track.NewReader(false)

	res, err := g.grab(ctx, ms.ID(), reader.Read)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("frame captured",
		zap.String("stream", ms.ID()),
		zap.Int("bytes", len(res.data)),
	)
	return &mediasession.CapturedImage{
		Format:     mediasession.ImageFormatJPEG,
		Data:       res.data,
		Width:      res.width,
		Height:     res.height,
		CapturedAt: time.Now(),
	}, nil
}

// grab reads and encodes one frame keyed by stream id. A cancelled ctx
// returns at once; at most one read per stream is ever outstanding.
func (g *FrameGrabber) grab(ctx context.Context, key string, read frameReadFunc) (grabbed, error) {
	if err := ctx.Err(); err != nil {
		return grabbed{}, err
	}
	g.mu.Lock()
	p, ok := g.inflight[key]
	if !ok {
		p = &pendingFrame{done: make(chan struct{})}
		g.inflight[key] = p
		go g.read(key, p, read)
	}
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return grabbed{}, ctx.Err()
	case <-p.done:
		return p.res, p.res.err
	}
}

func (g *FrameGrabber) read(key string, p *pendingFrame, read frameReadFunc) {
	defer func() {
		g.mu.Lock()
		delete(g.inflight, key)
		g.mu.Unlock()
		close(p.done)
	}()
	img, release, err := read()
	if release != nil {
		defer release()
	}
	if err != nil {
		p.res = grabbed{err: fmt.Errorf("reading frame: %w", err)}
		return
	}
	data, err := EncodeJPEG(img, g.quality)
	if err != nil {
		p.res = grabbed{err: err}
		return
	}
	b := img.Bounds()
	p.res = grabbed{data: data, width: b.Dx(), height: b.Dy()}
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("encoding nil image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
