// Package recurrence computes monthly "Nth weekday" session dates.
package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"

	"volcal/internal/model"
)

// NthWeekday returns the n-th occurrence of weekday in the given month at
// midnight in loc. Overflowing months and days are normalized by time.Date,
// so n=5 in a month with four matches rolls into the next month.
func NthWeekday(year int, month time.Month, weekday time.Weekday, n int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	if n < 1 {
		n = 1
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	day := (int(weekday)-int(first.Weekday())+7)%7 + 1
	return time.Date(first.Year(), first.Month(), day+7*(n-1), 0, 0, 0, 0, loc)
}

// NthWeekdayZero takes a zero-based month offset (0 = January) which may
// run past 11 or below 0.
func NthWeekdayZero(year, month0 int, weekday time.Weekday, n int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	anchor := time.Date(year, time.Month(month0+1), 1, 0, 0, 0, 0, loc)
	return NthWeekday(anchor.Year(), anchor.Month(), weekday, n, loc)
}

func FirstSaturday(year int, month time.Month, loc *time.Location) time.Time {
	return NthWeekday(year, month, time.Saturday, 1, loc)
}

func ThirdTuesday(year int, month time.Month, loc *time.Location) time.Time {
	return NthWeekday(year, month, time.Tuesday, 3, loc)
}

// Rule describes a recurring monthly session.
type Rule struct {
	Type      model.SessionType
	Weekday   time.Weekday
	N         int
	TimeStart string
	TimeEnd   string
	Label     string
}

// DefaultRules are the two standing sessions used when no remote source is
// reachable. Special sessions are never computed.
func DefaultRules() []Rule {
	return []Rule{
		{Type: model.TypeSaturday, Weekday: time.Saturday, N: 1, TimeStart: "10:00", TimeEnd: "12:00", Label: "First Saturday"},
		{Type: model.TypeTuesday, Weekday: time.Tuesday, N: 3, TimeStart: "18:30", TimeEnd: "20:00", Label: "Third Tuesday"},
	}
}

// On returns the rule's date for the given month.
func (r Rule) On(year int, month time.Month, loc *time.Location) time.Time {
	return NthWeekday(year, month, r.Weekday, r.N, loc)
}

// Placeholder builds the locally computed session for the given month.
func (r Rule) Placeholder(year int, month time.Month, loc *time.Location, capacity int) model.Session {
	label := r.Label
	if label == "" {
		label = r.Type.DefaultLabel()
	}
	return model.Session{
		Date:        r.On(year, month, loc),
		Type:        r.Type,
		TimeStart:   r.TimeStart,
		TimeEnd:     r.TimeEnd,
		Label:       label,
		MaxCapacity: capacity,
		Placeholder: true,
	}
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// RRule builds the equivalent iCalendar rule (FREQ=MONTHLY;BYDAY=+1SA)
// anchored at dtstart.
func (r Rule) RRule(dtstart time.Time) (*rrule.RRule, error) {
	return rrule.NewRRule(r.ROption(dtstart))
}

func (r Rule) ROption(dtstart time.Time) rrule.ROption {
	// Nth has a pointer receiver; map values are not addressable.
	wd := rruleWeekdays[r.Weekday]
	return rrule.ROption{
		Freq:      rrule.MONTHLY,
		Dtstart:   dtstart,
		Byweekday: []rrule.Weekday{wd.Nth(r.N)},
	}
}

// String renders the RRULE value, e.g. "FREQ=MONTHLY;BYDAY=+3TU".
func (r Rule) String() string {
	opt := r.ROption(time.Time{})
	return opt.RRuleString()
}
