package model

import (
	"strconv"
	"strings"
	"time"
)

// DateKeyLayout is the layout of the per-day identity used across the widget.
const DateKeyLayout = "2006-01-02"

// DefaultMaxCapacity applies when neither the remote record nor the
// configuration supplies a capacity.
const DefaultMaxCapacity = 50

// SessionType classifies a session for labelling and styling.
type SessionType string

const (
	TypeSaturday SessionType = "saturday"
	TypeTuesday  SessionType = "tuesday"
	TypeSpecial  SessionType = "special"
	// TypeCustom is the catch-all for values the widget does not recognize.
	TypeCustom SessionType = "custom"
)

// ParseSessionType maps a remote session_type value to a SessionType.
func ParseSessionType(s string) SessionType {
	switch SessionType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeSaturday:
		return TypeSaturday
	case TypeTuesday:
		return TypeTuesday
	case TypeSpecial:
		return TypeSpecial
	default:
		return TypeCustom
	}
}

// DefaultLabel is the title shown when the source omits one.
func (t SessionType) DefaultLabel() string {
	switch t {
	case TypeSaturday:
		return "First Saturday"
	case TypeTuesday:
		return "Third Tuesday"
	case TypeSpecial:
		return "Special Session"
	default:
		return "Volunteer Session"
	}
}

// Session is a bookable volunteer slot. There is at most one Session per
// date key.
type Session struct {
	Date time.Time
	Type SessionType

	// TimeStart / TimeEnd are 24-hour "HH:MM" wall-clock strings.
	TimeStart string
	TimeEnd   string

	Label string
	Notes string

	MaxCapacity     int
	RegisteredCount int
	Cancelled       bool

	// SourceID is the remote record identifier. Empty for placeholders,
	// which must never be submitted as a booking reference.
	SourceID    string
	Placeholder bool
}

// Key returns the YYYY-MM-DD identity of the session.
func (s Session) Key() string {
	return DateKey(s.Date)
}

// TimeLabel renders the time window, e.g. "10am - 12pm".
func (s Session) TimeLabel() string {
	return FormatTimeRange(s.TimeStart, s.TimeEnd)
}

// DisplayDate renders the long US form, e.g. "Saturday, December 6, 2025".
func (s Session) DisplayDate() string {
	return s.Date.Format("Monday, January 2, 2006")
}

// DateKey formats t as YYYY-MM-DD in t's own location.
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// ParseDateKey parses a YYYY-MM-DD key as local midnight in loc.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateKeyLayout, strings.TrimSpace(key), loc)
}

// Midnight truncates t to the start of its day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FormatTimeRange renders "HH:MM" pairs as "10am - 12pm". Either side
// missing yields an empty label.
func FormatTimeRange(start, end string) string {
	if start == "" || end == "" {
		return ""
	}
	return formatClock(start) + " - " + formatClock(end)
}

func formatClock(v string) string {
	parts := strings.Split(strings.TrimSpace(v), ":")
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return v
	}
	minutes := "00"
	if len(parts) > 1 {
		minutes = parts[1]
	}
	ampm := "am"
	if h >= 12 {
		ampm = "pm"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	if minutes == "00" {
		return strconv.Itoa(h12) + ampm
	}
	return strconv.Itoa(h12) + ":" + minutes + ampm
}

// Record is a remote session record as delivered by a source, before
// defaults are applied.
type Record struct {
	ID              string
	Date            string
	SessionType     string
	TimeStart       string
	TimeEnd         string
	Label           string
	MaxCapacity     int
	RegisteredCount int
	IsActive        bool
	IsCancelled     bool
	Notes           string
}

// Normalize converts r into a Session, filling documented defaults. It only
// fails when the date cannot be parsed, since a session without a date
// cannot be keyed.
func (r Record) Normalize(loc *time.Location, fallbackCapacity int) (Session, error) {
	date, err := ParseDateKey(firstDateToken(r.Date), loc)
	if err != nil {
		return Session{}, err
	}
	if fallbackCapacity <= 0 {
		fallbackCapacity = DefaultMaxCapacity
	}

	st := ParseSessionType(r.SessionType)
	s := Session{
		Date:            date,
		Type:            st,
		TimeStart:       trimClock(r.TimeStart),
		TimeEnd:         trimClock(r.TimeEnd),
		Label:           strings.TrimSpace(r.Label),
		Notes:           strings.TrimSpace(r.Notes),
		MaxCapacity:     r.MaxCapacity,
		RegisteredCount: r.RegisteredCount,
		Cancelled:       r.IsCancelled,
		SourceID:        r.ID,
	}
	if s.Label == "" {
		s.Label = st.DefaultLabel()
	}
	if s.MaxCapacity <= 0 {
		s.MaxCapacity = fallbackCapacity
	}
	if s.RegisteredCount < 0 {
		s.RegisteredCount = 0
	}
	return s, nil
}

// firstDateToken accepts "2025-12-06" as well as datetime forms such as
// "2025-12-06T00:00:00".
func firstDateToken(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > len(DateKeyLayout) {
		return v[:len(DateKeyLayout)]
	}
	return v
}

// trimClock reduces "18:30:00" to "18:30".
func trimClock(v string) string {
	v = strings.TrimSpace(v)
	parts := strings.Split(v, ":")
	if len(parts) >= 2 {
		return parts[0] + ":" + parts[1]
	}
	return v
}
