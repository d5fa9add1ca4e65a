// internal/fines/assess.go
package fines

import (
	"time"

	"shelftrack/internal/catalog"
)

// OverdueDays counts whole days between the due date and the return date,
// never negative.
func OverdueDays(dueAt, returnedAt time.Time) int {
	if !returnedAt.After(dueAt) {
		return 0
	}
	return int(returnedAt.Sub(dueAt).Hours() / 24)
}

// Assess runs the fine computation for one loan closure. A lost book
// replaces, never adds to, the overdue and condition fines.
func (s Schedule) Assess(cond catalog.Condition, dueAt, returnedAt time.Time, lost bool) Assessment {
	a := Assessment{OverdueDays: OverdueDays(dueAt, returnedAt)}

	if lost {
		a.Components = []Component{{Type: TypeLostBook, Amount: s.LostBook}}
		a.Total = s.LostBook
		return a
	}

	if overdue := float64(a.OverdueDays) * s.OverduePerDay; overdue > 0 {
		a.Components = append(a.Components, Component{Type: TypeOverdue, Amount: overdue})
		a.Total += overdue
	}
	if t, ok := conditionType(cond); ok {
		amount := s.Rate(t)
		a.Components = append(a.Components, Component{Type: t, Amount: amount})
		a.Total += amount
	}
	return a
}
