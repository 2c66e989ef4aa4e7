package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatus_Terminal(t *testing.T) {
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusRunning.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusCancelled.Terminal())
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{TaskStatusPending, TaskStatusRunning, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusPending, TaskStatusFailed, false},
		{TaskStatusPending, TaskStatusCancelled, true},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusCancelled, true},
		{TaskStatusRunning, TaskStatusPending, false},
		{TaskStatusCompleted, TaskStatusRunning, false},
		{TaskStatusCompleted, TaskStatusCancelled, false},
		{TaskStatusFailed, TaskStatusCancelled, false},
		{TaskStatusCancelled, TaskStatusRunning, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equal(t, tc.allowed, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestTask_Clone_Independence(t *testing.T) {
	errMsg := "boom"
	started := time.Now()
	task := &Task{
		ID:     "t1",
		Title:  "original",
		Status: TaskStatusRunning,
		Steps: []Step{
			{ID: "s1", Description: "first", Status: TaskStatusPending, StartedAt: &started},
		},
		Meta:  map[string]interface{}{"key": "value"},
		Error: &errMsg,
	}

	clone := task.Clone()

	clone.Title = "mutated"
	clone.Steps[0].Description = "mutated"
	clone.Meta["key"] = "mutated"
	*clone.Error = "mutated"
	*clone.Steps[0].StartedAt = started.Add(time.Hour)

	assert.Equal(t, "original", task.Title)
	assert.Equal(t, "first", task.Steps[0].Description)
	assert.Equal(t, "value", task.Meta["key"])
	assert.Equal(t, "boom", *task.Error)
	assert.Equal(t, started, *task.Steps[0].StartedAt)
}

func TestTask_Clone_Nil(t *testing.T) {
	var task *Task
	assert.Nil(t, task.Clone())
}
