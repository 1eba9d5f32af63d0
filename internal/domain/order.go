package domain

// OrderMap maps a column key to the ordered IDs of the tasks rendered in it.
// A task ID appears in at most one column list at a time.
type OrderMap map[string][]string

// Clone returns a deep copy.
func (m OrderMap) Clone() OrderMap {
	out := make(OrderMap, len(m))
	for k, ids := range m {
		out[k] = append(make([]string, 0, len(ids)), ids...)
	}
	return out
}

// Remove deletes every occurrence of taskID from every column.
func (m OrderMap) Remove(taskID string) {
	for k, ids := range m {
		m[k] = removeID(ids, taskID)
	}
}

// Contains reports whether taskID is listed in the given column.
func (m OrderMap) Contains(column, taskID string) bool {
	for _, id := range m[column] {
		if id == taskID {
			return true
		}
	}
	return false
}

// ColumnOf returns the column currently listing taskID.
func (m OrderMap) ColumnOf(taskID string) (string, bool) {
	for k, ids := range m {
		for _, id := range ids {
			if id == taskID {
				return k, true
			}
		}
	}
	return "", false
}

func removeID(ids []string, taskID string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != taskID {
			out = append(out, id)
		}
	}
	return out
}
