package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/mediasession"
	"github.com/bt-bridge/mediasession/shared"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const postTimeout = 5 * time.Second

// Doer performs a single HTTP exchange. *fasthttp.Client satisfies it.
type Doer interface {
	DoTimeout(req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error
}

type payload struct {
	ID         string `json:"id"`
	RecordedAt string `json:"recordedAt"`
	mediasession.AnalyticsEvent
}

// HTTPSink posts each event as JSON to an endpoint in the background.
// Delivery failures are logged and dropped.
type HTTPSink struct {
	logger   shared.LoggerAdapter
	endpoint string
	client   Doer

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

var _ mediasession.AnalyticsSink = (*HTTPSink)(nil)

func NewHTTPSink(logger shared.LoggerAdapter, endpoint string, client Doer) (*HTTPSink, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if endpoint == "" {
		return nil, fmt.Errorf("analytics endpoint is required")
	}
	if client == nil {
		client = &fasthttp.Client{Name: "mediasession/" + shared.Version}
	}
	return &HTTPSink{
		logger:   logger.With(zap.String("component", "analytics"), zap.String("endpoint", endpoint)),
		endpoint: endpoint,
		client:   client,
	}, nil
}

func (s *HTTPSink) RecordEvent(_ context.Context, event mediasession.AnalyticsEvent) {
	body, err := sonic.Marshal(payload{
		ID:             uuid.NewString(),
		RecordedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		AnalyticsEvent: event,
	})
	if err != nil {
		s.logger.Error("marshaling analytics event", err)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("analytics sink closed, dropping event", eventFields(event)...)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		if err := s.post(body); err != nil {
			s.logger.Warn("delivering analytics event", append(eventFields(event), zap.Error(err))...)
		}
	}()
}

func (s *HTTPSink) post(body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)
	if err := s.client.DoTimeout(req, resp, postTimeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("unexpected status code: %d", code)
	}
	return nil
}

// Close waits for in-flight deliveries and drops later events.
func (s *HTTPSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
