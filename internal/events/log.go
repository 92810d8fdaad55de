package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the service log instead of a broker.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (l *LogPublisher) Publish(_ context.Context, e Event) error {
	l.log.Info("event",
		zap.String("kind", e.Kind),
		zap.String("key", e.Key()),
		zap.String("status", e.Status),
		zap.Int("count", e.Count),
		zap.Time("at", e.At))
	return nil
}

func (l *LogPublisher) Close() error { return nil }
