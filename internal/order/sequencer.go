package order

import (
	"slices"

	"github.com/gosuda/collaboard/internal/domain"
)

// PriorityWeight maps a priority to its sort weight. Unknown values weigh 0.
func PriorityWeight(p domain.Priority) int {
	switch p {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityMedium:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}

// Compare orders tasks editable-by-current-user first, then by descending
// priority weight. Equal tasks compare as 0.
func Compare(a, b domain.Task) int {
	if a.EditableByCurrentUser != b.EditableByCurrentUser {
		if a.EditableByCurrentUser {
			return -1
		}
		return 1
	}
	return PriorityWeight(b.Priority) - PriorityWeight(a.Priority)
}

// SortTasks sorts tasks in place by Compare, keeping input order on ties.
func SortTasks(tasks []domain.Task) {
	slices.SortStableFunc(tasks, Compare)
}

// FindInsertPosition returns the index at which newTask should be spliced
// into ordered: before the first element it sorts ahead of, or at the end.
func FindInsertPosition(ordered []domain.Task, newTask domain.Task) int {
	for i, t := range ordered {
		if Compare(newTask, t) < 0 {
			return i
		}
	}
	return len(ordered)
}
