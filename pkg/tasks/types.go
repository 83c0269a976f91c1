package tasks

import (
	"time"

	"github.com/platinummonkey/tenancy/pkg/statemachine"
)

// Status is where a task is in its workflow
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Closed reports whether the task no longer needs work
func (s Status) Closed() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Priority orders tasks by urgency
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Event moves a task between statuses
type Event string

const (
	EventStart    Event = "start"
	EventSubmit   Event = "submit"
	EventComplete Event = "complete"
	EventReopen   Event = "reopen"
	EventCancel   Event = "cancel"
)

type rule = statemachine.Rule[Status, Event]

// Transitions is the task workflow. CANCELLED is terminal; a completed task
// can be reopened.
var Transitions = statemachine.New[Status, Event]("task",
	rule{From: StatusTodo, Event: EventStart, To: StatusInProgress},
	rule{From: StatusTodo, Event: EventComplete, To: StatusCompleted},
	rule{From: StatusInProgress, Event: EventSubmit, To: StatusInReview},
	rule{From: StatusInProgress, Event: EventComplete, To: StatusCompleted},
	rule{From: StatusInReview, Event: EventComplete, To: StatusCompleted},
	rule{From: StatusInReview, Event: EventReopen, To: StatusInProgress},
	rule{From: StatusCompleted, Event: EventReopen, To: StatusInProgress},

	rule{From: StatusTodo, Event: EventCancel, To: StatusCancelled},
	rule{From: StatusInProgress, Event: EventCancel, To: StatusCancelled},
	rule{From: StatusInReview, Event: EventCancel, To: StatusCancelled},
)

// Task is a unit of work inside a tenant, optionally owned by a team
type Task struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	TeamID       *int64     `json:"team_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	AssignedTo   *int64     `json:"assigned_to,omitempty"`
	CreatedBy    *int64     `json:"created_by,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	ParentTaskID *int64     `json:"parent_task_id,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Overdue      bool       `json:"is_overdue"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsOverdue reports whether the due date has passed on an open task
func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && now.After(*t.DueDate) && !t.Status.Closed()
}

// CreateTaskRequest represents a new task
type CreateTaskRequest struct {
	TeamID       *int64     `json:"team_id,omitempty"`
	Title        string     `json:"title" validate:"required,max=255"`
	Description  string     `json:"description,omitempty"`
	Priority     Priority   `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	AssignedTo   *int64     `json:"assigned_to,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	ParentTaskID *int64     `json:"parent_task_id,omitempty"`
}

// UpdateTaskRequest is a partial task update. Status changes go through
// ChangeStatus.
type UpdateTaskRequest struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,max=255"`
	Description *string    `json:"description,omitempty"`
	Priority    *Priority  `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	AssignedTo  *int64     `json:"assigned_to,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Filter narrows ListTasks
type Filter struct {
	Status     Status
	Priority   Priority
	TeamID     *int64
	AssignedTo *int64
	Overdue    bool
	Search     string
	Limit      int
	Offset     int
}
