package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var runDate = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

func TestTablePayload_Identity(t *testing.T) {
	p := TablePayload{RunID: "run-1", Table: "sales", RunDate: runDate}

	assert.Equal(t, "table:run-1:sales:2024-01-03", p.UniqueID())
	assert.Equal(t, "sales", p.QueueName())
}

func TestTablePayload_UniquePerRun(t *testing.T) {
	a := TablePayload{RunID: "run-1", Table: "sales", RunDate: runDate}
	b := TablePayload{RunID: "run-2", Table: "sales", RunDate: runDate}

	assert.NotEqual(t, a.UniqueID(), b.UniqueID(), "re-runs must not be deduplicated away")
}

func TestModelPayload_Identity(t *testing.T) {
	p := ModelPayload{RunID: "run-1", RunDate: runDate}

	assert.Equal(t, "model:run-1:2024-01-03", p.UniqueID())
	assert.Equal(t, ModelQueue, p.QueueName())
}
