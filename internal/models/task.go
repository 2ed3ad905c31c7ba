package models

import (
	"time"
)

// TaskState is the workflow state of a task
type TaskState string

const (
	TaskStateTodo       TaskState = "todo"
	TaskStateInProgress TaskState = "in_progress"
	TaskStateDone       TaskState = "done"
)

// Task is a unit of work assigned inside a team
type Task struct {
	TeamID      string     `json:"teamId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	State       TaskState  `json:"state"`
	Priority    int        `json:"priority"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
}
