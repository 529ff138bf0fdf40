// Package capacity derives availability for a date from its session.
package capacity

import (
	"time"

	"volcal/internal/model"
)

// LimitedThreshold is the largest remaining count still shown as "limited".
const LimitedThreshold = 10

type Level string

const (
	LevelAvailable   Level = "available"
	LevelLimited     Level = "limited"
	LevelFull        Level = "full"
	LevelCancelled   Level = "cancelled"
	LevelUnavailable Level = "unavailable"
)

// Status is recomputed on every render; it is never stored.
type Status struct {
	Available   int   `json:"available"`
	Total       int   `json:"total"`
	Registered  int   `json:"registered"`
	IsFull      bool  `json:"is_full"`
	IsLimited   bool  `json:"is_limited"`
	IsCancelled bool  `json:"is_cancelled"`
	Level       Level `json:"status"`
}

// Unavailable is the sentinel for dates without a session.
var Unavailable = Status{Available: 0, IsFull: true, Level: LevelUnavailable}

// Lookup resolves a date key to its session.
type Lookup interface {
	Get(dateKey string) (model.Session, bool)
}

func Evaluate(s model.Session) Status {
	available := s.MaxCapacity - s.RegisteredCount
	st := Status{
		Available:   available,
		Total:       s.MaxCapacity,
		Registered:  s.RegisteredCount,
		IsFull:      available <= 0,
		IsLimited:   available > 0 && available <= LimitedThreshold,
		IsCancelled: s.Cancelled,
	}
	switch {
	case st.IsCancelled:
		st.Level = LevelCancelled
	case st.IsFull:
		st.Level = LevelFull
	case st.IsLimited:
		st.Level = LevelLimited
	default:
		st.Level = LevelAvailable
	}
	return st
}

func ForKey(l Lookup, dateKey string) Status {
	s, ok := l.Get(dateKey)
	if !ok {
		return Unavailable
	}
	return Evaluate(s)
}

// Bookable reports whether s can be selected on the day today.
func Bookable(s model.Session, today time.Time) bool {
	if s.Date.Before(model.Midnight(today)) {
		return false
	}
	st := Evaluate(s)
	return !st.IsFull && !st.IsCancelled
}

// Selectable is the guard checked immediately before a toggle: the session
// exists, has room, is not cancelled and is not in the past.
func Selectable(l Lookup, dateKey string, today time.Time) bool {
	s, ok := l.Get(dateKey)
	if !ok {
		return false
	}
	return Bookable(s, today)
}
