package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "volcal/internal/log"
)

const defaultMaxOccurrencesPerEvent = 500

// Occurrence is a single concrete instance of a session event after
// recurrence expansion, in the display location.
type Occurrence struct {
	UID string
	// InstanceKey identifies one occurrence of a recurring event.
	InstanceKey string

	Event ParsedEvent
	Start time.Time
	End   time.Time
}

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone all occurrences are converted to.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means the default.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed events into occurrences within the configured range,
// applying EXDATE and RECURRENCE-ID overrides.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	base := make([]ParsedEvent, 0, len(events))
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			base = append(base, ev)
		}
	}

	out := make([]Occurrence, 0)
	for _, ev := range base {
		ov := overridesByUID[ev.UID]
		if ev.RawRRule == "" {
			if inRange(ev.Start, cfg) {
				out = append(out, makeOccurrence(applyOverride(ev, ov, ev.Start), cfg.DisplayLocation))
			}
			continue
		}

		occ, hitCap := expandRecurring(ev, ov, cfg)
		if hitCap {
			appLog.Error("expand: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		out = append(out, occ...)
	}
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	times := set.Between(cfg.RangeStart.In(ev.Start.Location()), cfg.RangeEnd.In(ev.Start.Location()), true)
	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]Occurrence, 0, len(times))
	for _, start := range times {
		inst := ev
		inst.Start = start
		inst.End = start.Add(dur)
		out = append(out, makeOccurrence(applyOverride(inst, overrides, start), cfg.DisplayLocation))
	}
	return out, hitCap
}

// applyOverride swaps in the override whose RECURRENCE-ID equals start.
func applyOverride(ev ParsedEvent, overrides []ParsedEvent, start time.Time) ParsedEvent {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov
		}
	}
	return ev
}

func makeOccurrence(ev ParsedEvent, loc *time.Location) Occurrence {
	start := ev.Start
	end := ev.End
	if !ev.AllDay {
		start = start.In(loc)
		end = end.In(loc)
	} else {
		// All-day dates keep their calendar day regardless of zone.
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 1)
	}
	return Occurrence{
		UID:         ev.UID,
		InstanceKey: start.Format(time.RFC3339),
		Event:       ev,
		Start:       start,
		End:         end,
	}
}

func inRange(t time.Time, cfg ExpandConfig) bool {
	return !t.Before(cfg.RangeStart) && !t.After(cfg.RangeEnd)
}
