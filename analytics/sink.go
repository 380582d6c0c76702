// Package analytics records page events for the mediasession page.
package analytics

import (
	"context"

	"github.com/bt-bridge/mediasession"
	"github.com/bt-bridge/mediasession/shared"
	"go.uber.org/zap"
)

// LogSink writes events to the logger.
type LogSink struct {
	logger shared.LoggerAdapter
}

var _ mediasession.AnalyticsSink = (*LogSink)(nil)

func NewLogSink(logger shared.LoggerAdapter) (*LogSink, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &LogSink{logger: logger.With(zap.String("component", "analytics"))}, nil
}

func (s *LogSink) RecordEvent(_ context.Context, event mediasession.AnalyticsEvent) {
	s.logger.Info("analytics event", eventFields(event)...)
}

func eventFields(event mediasession.AnalyticsEvent) []zap.Field {
	return []zap.Field{
		zap.String("eventType", event.EventType),
		zap.String("actionType", event.ActionType),
		zap.String("pageName", event.PageName),
		zap.String("pageType", event.PageType),
		zap.String("componentName", event.ComponentName),
		zap.String("componentType", event.ComponentType),
	}
}

// Multi fans an event out to several sinks.
type Multi []mediasession.AnalyticsSink

func (m Multi) RecordEvent(ctx context.Context, event mediasession.AnalyticsEvent) {
	for _, s := range m {
		if s != nil {
			s.RecordEvent(ctx, event)
		}
	}
}
