package ics

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volcal/internal/model"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:first-saturday\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250104T150000Z\r\n" +
	"DTEND:20250104T170000Z\r\n" +
	"RRULE:FREQ=MONTHLY;BYDAY=1SA\r\n" +
	"EXDATE:20250301T150000Z\r\n" +
	"SUMMARY:First Saturday\r\n" +
	"CATEGORIES:saturday\r\n" +
	"X-MAX-CAPACITY:40\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gala\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20250215\r\n" +
	"SUMMARY:Gala Setup\r\n" +
	"X-SESSION-TYPE:special\r\n" +
	"STATUS:CANCELLED\r\n" +
	"X-REGISTERED-COUNT:12\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseAndExpand(t *testing.T) {
	events, err := Parse([]byte(feed), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 2)

	sat := events[0]
	assert.Equal(t, "first-saturday", sat.UID)
	assert.Equal(t, []string{"saturday"}, sat.Categories)
	assert.Equal(t, 40, sat.MaxCapacity)
	assert.False(t, sat.AllDay)

	gala := events[1]
	assert.True(t, gala.AllDay)
	assert.True(t, gala.Cancelled)
	assert.Equal(t, "special", gala.SessionType)
	assert.Equal(t, 12, gala.RegisteredCount)

	occ, err := Expand(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var keys []string
	for _, o := range occ {
		keys = append(keys, model.DateKey(o.Start))
	}
	// March is excluded via EXDATE.
	assert.ElementsMatch(t, []string{"2025-01-04", "2025-02-01", "2025-04-05", "2025-02-15"}, keys)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	_, err := Expand(nil, ExpandConfig{
		RangeStart: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}

func TestExportRoundTripsThroughParse(t *testing.T) {
	sessions := []model.Session{
		{Date: time.Date(2025, 12, 6, 0, 0, 0, 0, time.UTC), Type: model.TypeSaturday, Label: "First Saturday",
			TimeStart: "10:00", TimeEnd: "12:00", MaxCapacity: 50, RegisteredCount: 45, SourceID: "17"},
		{Date: time.Date(2025, 12, 16, 0, 0, 0, 0, time.UTC), Type: model.TypeTuesday, Label: "Third Tuesday",
			MaxCapacity: 50, Placeholder: true, Cancelled: true},
	}
	out := Export(sessions, "Volunteer Sessions", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))

	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR"))
	assert.Contains(t, out, "UID:session-17@volcal")
	assert.Contains(t, out, "UID:placeholder-2025-12-16-tuesday@volcal")
	assert.Contains(t, out, "STATUS:CANCELLED")

	events, err := Parse([]byte(out), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 45, events[0].RegisteredCount)
	assert.Equal(t, 10, events[0].Start.Hour())
	assert.True(t, events[1].AllDay)
	assert.True(t, events[1].Cancelled)
}

func TestSessionWindowAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Clocks spring forward at 02:00 on 2026-03-08 and fall back on 2026-11-01.
	for _, date := range []time.Time{
		time.Date(2026, 3, 8, 0, 0, 0, 0, loc),
		time.Date(2026, 11, 1, 0, 0, 0, 0, loc),
	} {
		s := model.Session{Date: date, Type: model.TypeSaturday, TimeStart: "10:00", TimeEnd: "12:30"}
		start, end, timed := sessionWindow(s)
		require.True(t, timed)
		assert.Equal(t, 10, start.Hour(), date.Format("2006-01-02"))
		assert.Equal(t, 0, start.Minute())
		assert.Equal(t, 12, end.Hour(), date.Format("2006-01-02"))
		assert.Equal(t, 30, end.Minute())
		assert.Equal(t, date.Day(), start.Day())
	}
}
