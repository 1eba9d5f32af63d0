package domain

import (
	"bytes"
	"encoding/json"
)

// Column is a lane on a board. Name doubles as the task status value unless
// the backend assigns a stable ID.
type Column struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Key returns the identifier used to key the column's order list.
func (c Column) Key() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}

// Matches reports whether a task status refers to this column.
func (c Column) Matches(status string) bool {
	if status == "" {
		return false
	}
	return status == c.Name || (c.ID != "" && status == c.ID)
}

// Ref is a reference to a user or group. The backend sends either a bare ID
// string or an object with id and name.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	type plain Ref
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Ref(p)
	return nil
}

type Board struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Color       string   `json:"color,omitempty"`
	Columns     []Column `json:"columns"`
	Tasks       []Task   `json:"tasks"`
	Admins      []string `json:"admins,omitempty"`
	Members     []Ref    `json:"members,omitempty"`
	Group       *Ref     `json:"group,omitempty"`
	Favourite   bool     `json:"favourite"`
}

// ColumnFor resolves a task status to a column. Tasks whose status resolves
// to nothing are orphaned and rendered nowhere.
func (b *Board) ColumnFor(status string) (Column, bool) {
	for _, c := range b.Columns {
		if c.Matches(status) {
			return c, true
		}
	}
	return Column{}, false
}

// Column looks a column up by key.
func (b *Board) Column(key string) (Column, bool) {
	for _, c := range b.Columns {
		if c.Key() == key {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnKeys returns the keys of all columns in display order.
func (b *Board) ColumnKeys() []string {
	keys := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		keys[i] = c.Key()
	}
	return keys
}

// TaskIndex returns the position of the task in b.Tasks, or -1.
func (b *Board) TaskIndex(id string) int {
	for i := range b.Tasks {
		if b.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// TasksIn returns the tasks whose status matches the column, in board order.
func (b *Board) TasksIn(c Column) []Task {
	out := make([]Task, 0)
	for _, t := range b.Tasks {
		if c.Matches(t.Status) {
			out = append(out, t)
		}
	}
	return out
}
