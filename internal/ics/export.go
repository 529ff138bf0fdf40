package ics

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"volcal/internal/model"
)

const ProductID = "-//volcal//Volunteer Sessions//EN"

// Export renders sessions as an iCalendar feed. Cancelled sessions are
// kept with STATUS:CANCELLED so subscribers see the change.
func Export(sessions []model.Session, calName string, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	if calName != "" {
		cal.SetName(calName)
	}

	for _, s := range sessions {
		ev := cal.AddEvent(eventUID(s))
		ev.SetDtStampTime(now.UTC())
		ev.SetSummary(s.Label)
		if s.Notes != "" {
			ev.SetDescription(s.Notes)
		}
		ev.SetProperty(ical.ComponentPropertyCategories, string(s.Type))
		ev.SetProperty(PropSessionType, string(s.Type))
		ev.SetProperty(PropMaxCapacity, strconv.Itoa(s.MaxCapacity))
		ev.SetProperty(PropRegisteredCount, strconv.Itoa(s.RegisteredCount))
		if s.Cancelled {
			ev.SetProperty(ical.ComponentPropertyStatus, "CANCELLED")
		} else {
			ev.SetProperty(ical.ComponentPropertyStatus, "CONFIRMED")
		}

		start, end, timed := sessionWindow(s)
		if timed {
			ev.SetStartAt(start)
			ev.SetEndAt(end)
		} else {
			ev.SetAllDayStartAt(start)
			ev.SetAllDayEndAt(start.AddDate(0, 0, 1))
		}
	}
	return cal.Serialize()
}

func eventUID(s model.Session) string {
	if s.SourceID != "" {
		return "session-" + s.SourceID + "@volcal"
	}
	return "placeholder-" + s.Key() + "-" + string(s.Type) + "@volcal"
}

// sessionWindow resolves the wall-clock window on the session's day. Times
// are built with time.Date so DST transition days keep their local hour.
func sessionWindow(s model.Session) (start, end time.Time, timed bool) {
	day := model.Midnight(s.Date)
	sh, sm, okStart := wallClock(s.TimeStart)
	eh, em, okEnd := wallClock(s.TimeEnd)
	if !okStart || !okEnd {
		return day, day, false
	}
	y, m, d := day.Date()
	loc := day.Location()
	return time.Date(y, m, d, sh, sm, 0, 0, loc), time.Date(y, m, d, eh, em, 0, 0, loc), true
}

func wallClock(v string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
