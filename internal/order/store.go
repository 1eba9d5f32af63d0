// Package order keeps the per-board manual ordering of tasks within columns
// and derives default placement for tasks the client has not seen before.
package order

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/collaboard/internal/domain"
)

// Store is the in-memory view of every opened board's order, written through
// to a Backend after each mutation so a restart replays the latest order.
type Store struct {
	backend Backend

	mu     sync.Mutex
	boards map[string]domain.OrderMap
}

func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		boards:  make(map[string]domain.OrderMap),
	}
}

// Order returns a copy of the board's current order, empty if never loaded
// or initialized.
func (s *Store) Order(boardID string) domain.OrderMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.boards[boardID]
	if !ok {
		return domain.OrderMap{}
	}
	return m.Clone()
}

// Load hydrates the board's order from the backend.
func (s *Store) Load(ctx context.Context, boardID string) (domain.OrderMap, error) {
	m, err := s.backend.Load(ctx, StorageKey(boardID))
	if err != nil {
		return domain.OrderMap{}, fmt.Errorf("order.Store.Load: %w", err)
	}
	if m == nil {
		m = domain.OrderMap{}
	}

	s.mu.Lock()
	s.boards[boardID] = m
	s.mu.Unlock()

	return m.Clone(), nil
}

// Forget drops the in-memory copy of a board's order. Durable storage is kept.
func (s *Store) Forget(boardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boards, boardID)
}

// InitializeOrder merges the stored order with the board's current task set.
// Columns with a stored list keep it and get unseen tasks appended in default
// order; columns without one are seeded by SortTasks. IDs listed under one
// column whose task now sits in another are dropped from the stale list, IDs
// of tasks that no longer exist are left alone.
func (s *Store) InitializeOrder(ctx context.Context, boardID string, columns []domain.Column, tasks []domain.Task) (domain.OrderMap, error) {
	return s.mutate(ctx, boardID, "order.Store.InitializeOrder", func(current domain.OrderMap) domain.OrderMap {
		home := make(map[string]string, len(tasks))
		for _, t := range tasks {
			if t.ID == "" {
				continue
			}
			for _, c := range columns {
				if c.Matches(t.Status) {
					home[t.ID] = c.Key()
					break
				}
			}
		}

		next := make(domain.OrderMap, len(columns))
		for _, c := range columns {
			key := c.Key()

			colTasks := make([]domain.Task, 0)
			for _, t := range tasks {
				if t.ID != "" && home[t.ID] == key {
					colTasks = append(colTasks, t)
				}
			}
			SortTasks(colTasks)

			existing, ok := current[key]
			if !ok {
				ids := make([]string, 0, len(colTasks))
				for _, t := range colTasks {
					ids = append(ids, t.ID)
				}
				next[key] = ids
				continue
			}

			seen := make(map[string]struct{}, len(existing))
			ids := make([]string, 0, len(existing)+len(colTasks))
			for _, id := range existing {
				if col, known := home[id]; known && col != key {
					continue
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
			for _, t := range colTasks {
				if _, listed := seen[t.ID]; !listed {
					seen[t.ID] = struct{}{}
					ids = append(ids, t.ID)
				}
			}
			next[key] = ids
		}
		return next
	})
}

// AddTask places a task the board has not listed yet. If the task is already
// in column, nothing changes. Otherwise it is removed from any other column
// and spliced in at FindInsertPosition, comparing against the column's
// current list rehydrated from known (unknown IDs count as non-editable with
// no priority).
func (s *Store) AddTask(ctx context.Context, boardID, column string, task domain.Task, known []domain.Task) (domain.OrderMap, error) {
	if task.ID == "" || column == "" {
		return s.Order(boardID), nil
	}

	s.mu.Lock()
	present := s.current(boardID).Contains(column, task.ID)
	s.mu.Unlock()
	if present {
		return s.Order(boardID), nil
	}

	byID := make(map[string]domain.Task, len(known))
	for _, t := range known {
		byID[t.ID] = t
	}

	return s.mutate(ctx, boardID, "order.Store.AddTask", func(m domain.OrderMap) domain.OrderMap {
		m.Remove(task.ID)

		ids := m[column]
		ordered := make([]domain.Task, len(ids))
		for i, id := range ids {
			if t, ok := byID[id]; ok {
				ordered[i] = t
			} else {
				ordered[i] = domain.Task{ID: id}
			}
		}

		m[column] = insertAt(ids, FindInsertPosition(ordered, task), task.ID)
		return m
	})
}

// MoveTask moves taskID from src to dst at index, clamped to the bounds of
// dst's list. The task is removed from every column before the insert, so a
// stale src cannot leave it listed twice and repeating the same move is a
// no-op.
func (s *Store) MoveTask(ctx context.Context, boardID, src, dst, taskID string, index int) (domain.OrderMap, error) {
	return s.mutate(ctx, boardID, "order.Store.MoveTask", func(m domain.OrderMap) domain.OrderMap {
		if col, ok := m.ColumnOf(taskID); ok && col != src {
			log.Debug().Str("board_id", boardID).Str("task_id", taskID).
				Str("src", src).Str("listed_in", col).Msg("order: move from a column the task is not listed in")
		}
		m.Remove(taskID)
		m[dst] = insertAt(m[dst], index, taskID)
		return m
	})
}

// Surface removes taskID from every column and puts it at the head of column.
func (s *Store) Surface(ctx context.Context, boardID, column, taskID string) (domain.OrderMap, error) {
	return s.mutate(ctx, boardID, "order.Store.Surface", func(m domain.OrderMap) domain.OrderMap {
		m.Remove(taskID)
		m[column] = insertAt(m[column], 0, taskID)
		return m
	})
}

// Restore replaces the board's order with a snapshot taken earlier.
func (s *Store) Restore(ctx context.Context, boardID string, snapshot domain.OrderMap) (domain.OrderMap, error) {
	return s.mutate(ctx, boardID, "order.Store.Restore", func(domain.OrderMap) domain.OrderMap {
		return snapshot.Clone()
	})
}

// mutate applies fn to a copy of the board's order, installs the result and
// writes it through. The in-memory order is updated even when the write
// fails; the error is returned for the caller to log.
func (s *Store) mutate(ctx context.Context, boardID, op string, fn func(domain.OrderMap) domain.OrderMap) (domain.OrderMap, error) {
	s.mu.Lock()
	next := fn(s.current(boardID).Clone())
	s.boards[boardID] = next
	saved := next.Clone()
	s.mu.Unlock()

	if err := s.backend.Save(ctx, StorageKey(boardID), saved); err != nil {
		return saved.Clone(), fmt.Errorf("%s: %w", op, err)
	}
	return saved.Clone(), nil
}

// current must be called with s.mu held.
func (s *Store) current(boardID string) domain.OrderMap {
	m, ok := s.boards[boardID]
	if !ok {
		return domain.OrderMap{}
	}
	return m
}

func insertAt(ids []string, index int, taskID string) []string {
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, taskID)
	return append(out, ids[index:]...)
}
