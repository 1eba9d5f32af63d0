package domain

import (
	"encoding/json"
	"time"
)

// Priority is the optional urgency of a task.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// UnmarshalJSON accepts the legacy "Mid" spelling as Medium.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "Mid" {
		s = string(PriorityMedium)
	}
	*p = Priority(s)
	return nil
}

type ChecklistItem struct {
	Item        string `json:"item"`
	IsCompleted bool   `json:"isCompleted"`
}

type Checklist struct {
	Name  string          `json:"name"`
	Items []ChecklistItem `json:"items"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Task is a card on a board. Status holds the name (or stable ID) of the
// column the task currently sits in.
type Task struct {
	ID                    string       `json:"id"`
	Title                 string       `json:"title"`
	Description           string       `json:"description,omitempty"`
	Status                string       `json:"status"`
	Assignees             []string     `json:"assignees"`
	DueDate               *time.Time   `json:"dueDate,omitempty"`
	Board                 string       `json:"board"`
	Priority              Priority     `json:"priority,omitempty"`
	Checklists            []Checklist  `json:"checklists,omitempty"`
	Attachments           []Attachment `json:"attachments,omitempty"`
	EditableByCurrentUser bool         `json:"canEdit"`
	CreatedAt             time.Time    `json:"createdAt,omitzero"`
	UpdatedAt             time.Time    `json:"updatedAt,omitzero"`
}

// TaskPatch is the partial update sent to the backend. Nil fields are omitted.
type TaskPatch struct {
	Status      *string   `json:"status,omitempty"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Assignees   []string  `json:"assignees,omitempty"`
}

// Operation is the kind of change carried by a realtime task event.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
)

// TaskEvent is a realtime notification that a task was created or updated.
// CorrelationID echoes the X-Correlation-ID of the request that caused it,
// when the change came through this server.
type TaskEvent struct {
	Operation     Operation `json:"operation"`
	Task          Task      `json:"task"`
	BoardID       string    `json:"boardId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Valid reports whether the event can be applied.
func (e TaskEvent) Valid() bool {
	if e.Task.ID == "" {
		return false
	}
	return e.Operation == OperationCreate || e.Operation == OperationUpdate
}

// BoardOf returns the board the event belongs to.
func (e TaskEvent) BoardOf() string {
	if e.BoardID != "" {
		return e.BoardID
	}
	return e.Task.Board
}
