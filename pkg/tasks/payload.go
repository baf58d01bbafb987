// Package tasks defines the queue payloads and handlers that split a run
// across workers
package tasks

import (
	"fmt"
	"time"
)

const (
	// TypeTablePipeline is the task type for one table's pipeline
	TypeTablePipeline = "pipeline:table"
	// TypeModelBuild is the task type for the dimensional model build
	TypeModelBuild = "pipeline:model"

	// ModelQueue is the queue the dimensional build task runs on
	ModelQueue = "model"
)

// runDateLayout keys tasks by calendar day
const runDateLayout = "2006-01-02"

// TablePayload is the payload for one table's pipeline task
type TablePayload struct {
	RunID      string    `json:"run_id"`
	Table      string    `json:"table"`
	RunDate    time.Time `json:"run_date"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// UniqueID returns the task identity used for deduplication: one task per
// table per run
func (p TablePayload) UniqueID() string {
	return fmt.Sprintf("table:%s:%s:%s", p.RunID, p.Table, p.RunDate.UTC().Format(runDateLayout))
}

// QueueName returns the per-table queue this task runs on
func (p TablePayload) QueueName() string {
	return p.Table
}

// ModelPayload is the payload for the dimensional build task
type ModelPayload struct {
	RunID      string    `json:"run_id"`
	RunDate    time.Time `json:"run_date"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// UniqueID returns the task identity used for deduplication: one build per
// run
func (p ModelPayload) UniqueID() string {
	return fmt.Sprintf("model:%s:%s", p.RunID, p.RunDate.UTC().Format(runDateLayout))
}

// QueueName returns the queue the build task runs on
func (p ModelPayload) QueueName() string {
	return ModelQueue
}
