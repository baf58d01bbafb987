package testutil

import (
	"context"
	"sync"
)

// RecordingPublisher captures published artifacts for assertions
type RecordingPublisher struct {
	mu        sync.Mutex
	artifacts map[string]string
	err       error
}

// NewRecordingPublisher creates an empty recording publisher
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{artifacts: make(map[string]string)}
}

// FailWith makes every publish return err
func (p *RecordingPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.err = err
}

// Publish implements reporting.Publisher
func (p *RecordingPublisher) Publish(_ context.Context, key, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.artifacts[key] = content

	return nil
}

// Artifact returns the published content for a key
func (p *RecordingPublisher) Artifact(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	content, ok := p.artifacts[key]

	return content, ok
}

// Count returns how many artifacts were published
func (p *RecordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.artifacts)
}
