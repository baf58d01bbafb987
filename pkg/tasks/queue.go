package tasks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// taskTimeout bounds how long one table pipeline may run on a worker
const taskTimeout = 30 * time.Minute

// completedRetention keeps finished tasks visible to the coordinator's
// completion polling
const completedRetention = time.Hour

// QueueManager manages task queuing
type QueueManager struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewQueueManager creates a new queue manager
func NewQueueManager(redisOpt *asynq.RedisClientOpt) *QueueManager {
	return &QueueManager{
		client:    asynq.NewClient(*redisOpt),
		inspector: asynq.NewInspector(*redisOpt),
	}
}

// EnqueueTable enqueues one table's pipeline task on its per-table queue
func (q *QueueManager) EnqueueTable(payload TablePayload, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeTablePipeline, data)

	allOpts := append([]asynq.Option{
		asynq.TaskID(payload.UniqueID()),
		asynq.Queue(payload.QueueName()),
		asynq.MaxRetry(0), // the pipeline retries its own steps
		asynq.Timeout(taskTimeout),
		asynq.Retention(completedRetention),
	}, opts...)

	_, err = q.client.Enqueue(task, allOpts...)

	return err
}

// EnqueueModelBuild enqueues the dimensional build task
func (q *QueueManager) EnqueueModelBuild(payload ModelPayload, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeModelBuild, data)

	allOpts := append([]asynq.Option{
		asynq.TaskID(payload.UniqueID()),
		asynq.Queue(payload.QueueName()),
		asynq.MaxRetry(0),
		asynq.Timeout(taskTimeout),
		asynq.Retention(completedRetention),
	}, opts...)

	_, err = q.client.Enqueue(task, allOpts...)

	return err
}

// IsTaskPendingOrRunning checks if a task is pending or running
func (q *QueueManager) IsTaskPendingOrRunning(queue, id string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(queue, id)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return info.State == asynq.TaskStatePending ||
		info.State == asynq.TaskStateActive ||
		info.State == asynq.TaskStateRetry, nil
}

// GetQueueStats returns queue statistics
func (q *QueueManager) GetQueueStats(queueName string) (*asynq.QueueInfo, error) {
	return q.inspector.GetQueueInfo(queueName)
}

// Close closes the queue manager
func (q *QueueManager) Close() error {
	return q.client.Close()
}

func isNotFound(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "NOT FOUND") ||
		strings.Contains(msg, "queue not found") ||
		strings.Contains(msg, "task not found")
}
