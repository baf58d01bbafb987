package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/strata/pkg/orchestrator"
	"github.com/ethpandaops/strata/pkg/tables"
)

// Static errors
var (
	// ErrTableNotConfigured is returned when a task references a table the
	// worker does not know about
	ErrTableNotConfigured = errors.New("table not configured")
)

// TaskHandler executes queued pipeline tasks on a worker
type TaskHandler struct {
	log     logrus.FieldLogger
	orch    *orchestrator.Orchestrator
	config  *tables.Config
	results *ResultStore
}

// NewTaskHandler creates a task handler over the worker's orchestrator
func NewTaskHandler(logger logrus.FieldLogger, orch *orchestrator.Orchestrator, config *tables.Config, results *ResultStore) *TaskHandler {
	return &TaskHandler{
		log:     logger.WithField("component", "task-handler"),
		orch:    orch,
		config:  config,
		results: results,
	}
}

// HandleTablePipeline runs one table's pipeline and records the outcome.
// The pipeline retries its own steps, so a terminal failure is recorded and
// the task itself is not re-queued.
func (h *TaskHandler) HandleTablePipeline(ctx context.Context, t *asynq.Task) error {
	var payload TablePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	config := h.tableConfig(payload.Table)
	if config == nil {
		return fmt.Errorf("%w: %s", ErrTableNotConfigured, payload.Table)
	}

	log := h.log.WithFields(logrus.Fields{
		"run_id": payload.RunID,
		"table":  payload.Table,
	})

	log.Info("Starting table pipeline task")

	start := time.Now()
	result := h.orch.RunTable(ctx, config, payload.RunDate)

	if err := h.results.SetTable(ctx, payload.RunID, payload.Table, result); err != nil {
		return fmt.Errorf("failed to record table result: %w", err)
	}

	log.WithFields(logrus.Fields{
		"status":   result.Status,
		"duration": time.Since(start),
	}).Info("Table pipeline task finished")

	if result.Err != nil {
		log.WithError(result.Err).Error("Table pipeline failed")
	}

	return nil
}

// HandleModelBuild runs the dimensional model build
func (h *TaskHandler) HandleModelBuild(ctx context.Context, t *asynq.Task) error {
	var payload ModelPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	log := h.log.WithField("run_id", payload.RunID)
	log.Info("Starting dimensional build task")

	if err := h.orch.RunModel(ctx, h.config, payload.RunDate); err != nil {
		log.WithError(err).Error("Dimensional build failed")
		return err
	}

	log.Info("Dimensional build task finished")

	return nil
}

// Routes returns the task handler routes for Asynq
func (h *TaskHandler) Routes() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		TypeTablePipeline: h.HandleTablePipeline,
		TypeModelBuild:    h.HandleModelBuild,
	}
}

func (h *TaskHandler) tableConfig(name string) *tables.TableConfig {
	for i := range h.config.Tables {
		if h.config.Tables[i].Name == name {
			return &h.config.Tables[i]
		}
	}

	return nil
}
