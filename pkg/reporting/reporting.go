// Package reporting publishes human-readable run artifacts. Publishing is
// fire-and-forget: a failed publish never fails the step that triggered it.
package reporting

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Publisher delivers a rendered artifact under a key
type Publisher interface {
	Publish(ctx context.Context, key, content string) error
}

// Publish sends an artifact and logs delivery failures instead of
// returning them
func Publish(ctx context.Context, log logrus.FieldLogger, publisher Publisher, key, content string) {
	if publisher == nil {
		return
	}

	if err := publisher.Publish(ctx, key, content); err != nil {
		log.WithError(err).WithField("key", key).Warn("Failed to publish report artifact")
	}
}

// LogPublisher writes artifacts to the process log
type LogPublisher struct {
	log logrus.FieldLogger
}

// NewLogPublisher creates a publisher backed by the process log
func NewLogPublisher(logger logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{
		log: logger.WithField("component", "reporting"),
	}
}

// Publish logs the artifact content under its key
func (p *LogPublisher) Publish(_ context.Context, key, content string) error {
	p.log.WithField("key", key).Info(content)
	return nil
}
