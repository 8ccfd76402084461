package calls

import (
	"sort"
	"time"
)

// SortForDisplay orders logs the way Query does: rows with a start time first,
// newest first; rows without one after them by creation time, newest first.
// Rows missing both come last. Ties break on id descending.
func SortForDisplay(logs []CallLog) {
	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if c := compareDesc(a.StartedAt, b.StartedAt); c != 0 {
			return c < 0
		}
		if c := compareDesc(a.CreatedAt, b.CreatedAt); c != 0 {
			return c < 0
		}
		return a.ID > b.ID
	})
}

// compareDesc orders timestamps descending with nulls last: -1 when a sorts first.
func compareDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.After(*b):
		return -1
	case b.After(*a):
		return 1
	default:
		return 0
	}
}
