package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/mediasession/shared"
	"github.com/openai/openai-go/v3/realtime"
	"github.com/pion/webrtc/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.openai.com/v1"

const sessionTimeout = 30 * time.Second

type TrackLocalHandler func(track *webrtc.TrackLocalStaticSample)

type EventHandler func(event *Event)

// Doer performs a single HTTP exchange. *fasthttp.Client satisfies it.
type Doer interface {
	Do(req *fasthttp.Request, resp *fasthttp.Response) error
}

// Client is a realtime session over WebRTC: microphone audio goes out on
// a local opus track and server events come back on the "oai" data
// channel.
type Client struct {
	logger  shared.LoggerAdapter
	baseUrl *url.URL
	apiKey  string
	http    Doer
	cfg     *realtime.RealtimeSessionCreateRequestParam

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	running bool

	audioL   *webrtc.TrackLocalStaticSample
	audioTLH TrackLocalHandler
	eh       EventHandler

	state     webrtc.PeerConnectionState
	connected <-chan struct{}

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewClient(ctx context.Context, logger shared.LoggerAdapter, apikey, baseUrl string) (c *Client, err error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apikey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if baseUrl == "" {
		baseUrl = DefaultBaseURL
	}
	parsed, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	c = &Client{
		logger:  logger.With(zap.String("component", "speech-client")),
		baseUrl: parsed,
		apiKey:  apikey,
		http: &fasthttp.Client{
			Name:         "mediasession/" + shared.Version,
			ReadTimeout:  sessionTimeout,
			WriteTimeout: sessionTimeout,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	c.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		cancel(err)
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	connected := make(chan struct{})
	var connectedOnce sync.Once
	markConnected := func() { connectedOnce.Do(func() { close(connected) }) }
	c.connected = connected

	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.respectCtx(); err != nil {
			return
		}
		c.logger.Trace(
			"peer connection state changed",
			zap.String("prev", c.state.String()),
			zap.String("new", state.String()),
		)
		c.state = state
		switch state {
		case webrtc.PeerConnectionStateConnected:
			markConnected()
			if c.audioTLH != nil && c.audioL != nil {
				go c.audioTLH(c.audioL)
			}
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			markConnected()
			c.cancel(fmt.Errorf("peer connection state is %s", state))
		}
	})

	c.dc, err = c.pc.CreateDataChannel("oai", nil)
	if err != nil {
		_ = c.pc.Close()
		cancel(err)
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	return c, nil
}

// SetHTTPClient replaces the transport used for the SDP exchange.
func (c *Client) SetHTTPClient(d Doer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrAlreadyRunning
	}
	c.http = d
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	pc := c.pc
	c.pc = nil
	c.running = false
	c.mu.Unlock()

	// pc.Close fires the state callback, which takes c.mu.
	var err error
	if pc != nil {
		if err = pc.Close(); err != nil {
			c.logger.Error("closing peer connection failed", err)
		}
	}
	c.cancel(errors.New("client closed"))
	return err
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) Connected() <-chan struct{} {
	return c.connected
}

func (c *Client) State() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) respectCtx() error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}
	return nil
}

func (c *Client) SetConfig(cfg *realtime.RealtimeSessionCreateRequestParam) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrAlreadyRunning
	}
	c.cfg = cfg
	return nil
}

// RegisterTrackLocalHandler adds the outgoing opus track. handler runs once
// the peer connection is up and should feed microphone audio into it.
func (c *Client) RegisterTrackLocalHandler(handler TrackLocalHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrAlreadyRunning
	}
	if c.audioTLH != nil || c.audioL != nil {
		return shared.ErrTLHandlerAlreadySet
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	if c.pc == nil {
		return shared.ErrClientNotInitialized
	}
	var err error
	c.audioL, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio",
		"mic",
	)
	if err != nil {
		return fmt.Errorf("creating local audio track: %w", err)
	}
	if _, err = c.pc.AddTrack(c.audioL); err != nil {
		return fmt.Errorf("adding audio track to peer connection: %w", err)
	}
	c.audioTLH = handler
	return nil
}

func (c *Client) RegisterEventHandler(handler EventHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrAlreadyRunning
	}
	if c.eh != nil {
		return shared.ErrEHandlerAlreadySet
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	c.eh = handler
	c.dc.OnOpen(func() {
		c.logger.Info("data channel opened")
	})
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			c.logger.Warn("received non-string message on data channel")
			return
		}
		event, err := DecodeEvent(msg.Data)
		if err != nil {
			c.logger.Error("can not unmarshal event", err, zap.ByteString("data", msg.Data))
			return
		}
		c.logger.Debug(
			"received event",
			zap.String("type", string(event.Type)),
			zap.String("event_id", event.EventId),
		)
		c.eh(event)
	})
	return nil
}

// DecodeEvent parses one data channel message.
func DecodeEvent(data []byte) (*Event, error) {
	event := new(Event)
	if err := event.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return event, nil
}

func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrAlreadyRunning
	}
	if c.cfg == nil {
		return shared.ErrNoConfig
	}
	if c.pc == nil || c.dc == nil {
		return shared.ErrClientNotInitialized
	}
	if c.eh == nil {
		return shared.ErrNoEventHandler
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.cancel(fmt.Errorf("creating offer: %w", err))
		return fmt.Errorf("creating offer: %w", err)
	}
	if err = c.pc.SetLocalDescription(offer); err != nil {
		c.cancel(fmt.Errorf("setting local description: %w", err))
		return fmt.Errorf("setting local description: %w", err)
	}
	if err := c.respectCtx(); err != nil {
		return fmt.Errorf("respecting client context: %w", err)
	}
	answer, err := c.createSession(offer.SDP)
	if err != nil {
		c.cancel(fmt.Errorf("creating session: %w", err))
		return fmt.Errorf("creating session: %w", err)
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		c.cancel(fmt.Errorf("setting remote description: %w", err))
		return fmt.Errorf("setting remote description: %w", err)
	}
	c.running = true
	return nil
}

// createSession posts the SDP offer together with the session config as
// multipart form data and returns the SDP answer.
func (c *Client) createSession(offer string) (string, error) {
	sessBytes, err := c.cfg.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	parts := []struct {
		name, contentType string
		data              []byte
	}{
		{"sdp", "application/sdp", []byte(offer)},
		{"session", "application/json", sessBytes},
	}
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, p.name))
		h.Set("Content-Type", p.contentType)
		w, err := writer.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("creating %s part: %w", p.name, err)
		}
		if _, err = w.Write(p.data); err != nil {
			return "", fmt.Errorf("writing %s part: %w", p.name, err)
		}
	}
	if err = writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseUrl.JoinPath("/realtime/calls").String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.SetContentType(writer.FormDataContentType())
	req.SetBody(body.Bytes())

	errC := make(chan error, 1)
	go func() {
		errC <- c.http.Do(req, resp)
	}()
	select {
	case <-c.ctx.Done():
		// The request still owns req/resp; wait for it before releasing.
		<-errC
		return "", c.ctx.Err()
	case err := <-errC:
		if err != nil {
			return "", fmt.Errorf("performing HTTP request: %w", err)
		}
	}
	if resp.StatusCode() != fasthttp.StatusCreated {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	return string(resp.Body()), nil
}
