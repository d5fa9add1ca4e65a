// internal/fines/schedule.go
package fines

import (
	"os"
	"strconv"

	"shelftrack/internal/catalog"
)

// Schedule is the rate table for every fine category. It is resolved once
// at startup and injected into the engine; a missing or malformed setting
// degrades to the default rate, never to an error.
type Schedule struct {
	OverduePerDay float64 `json:"overdue_per_day"`
	ConditionFair float64 `json:"condition_fair"`
	ConditionPoor float64 `json:"condition_poor"`
	Damaged       float64 `json:"damaged"`
	LostBook      float64 `json:"lost_book"`
	Theft         float64 `json:"theft"`
}

// DefaultSchedule returns the hard-coded fallback rates.
func DefaultSchedule() Schedule {
	return Schedule{
		OverduePerDay: 10,
		ConditionFair: 50,
		ConditionPoor: 150,
		Damaged:       300,
		LostBook:      500,
		Theft:         800,
	}
}

// LoadSchedule resolves the schedule from the environment, falling back to
// defaults per rate.
func LoadSchedule() Schedule {
	s := DefaultSchedule()
	s.OverduePerDay = envRate("FINE_OVERDUE_PER_DAY", s.OverduePerDay)
	s.ConditionFair = envRate("FINE_CONDITION_FAIR", s.ConditionFair)
	s.ConditionPoor = envRate("FINE_CONDITION_POOR", s.ConditionPoor)
	s.Damaged = envRate("FINE_DAMAGED", s.Damaged)
	s.LostBook = envRate("FINE_LOST_BOOK", s.LostBook)
	s.Theft = envRate("FINE_THEFT", s.Theft)
	return s
}

func envRate(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	rate, err := strconv.ParseFloat(v, 64)
	if err != nil || rate < 0 {
		return fallback
	}
	return rate
}

// Rate returns the configured amount for a fine category.
func (s Schedule) Rate(t Type) float64 {
	switch t {
	case TypeOverdue:
		return s.OverduePerDay
	case TypeConditionFair:
		return s.ConditionFair
	case TypeConditionPoor:
		return s.ConditionPoor
	case TypeDamaged:
		return s.Damaged
	case TypeLostBook:
		return s.LostBook
	case TypeTheft:
		return s.Theft
	}
	return 0
}

// conditionType maps a condition grade to its fine category; excellent and
// good carry no fine.
func conditionType(c catalog.Condition) (Type, bool) {
	switch c {
	case catalog.ConditionFair:
		return TypeConditionFair, true
	case catalog.ConditionPoor:
		return TypeConditionPoor, true
	case catalog.ConditionDamaged:
		return TypeDamaged, true
	}
	return "", false
}

// Component is one constituent of an assessed fine.
type Component struct {
	Type   Type
	Amount float64
}

// Assessment is the deterministic outcome of the fine computation for one
// loan closure.
type Assessment struct {
	OverdueDays int
	Components  []Component
	Total       float64
}
