package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"volcal/internal/ics"
	appLog "volcal/internal/log"
	"volcal/internal/model"
)

// ICSFeed reads sessions from an iCalendar subscription. The session type
// comes from X-SESSION-TYPE or the first recognized CATEGORIES value;
// capacity comes from X-MAX-CAPACITY / X-REGISTERED-COUNT.
type ICSFeed struct {
	URL      string
	Location *time.Location
	// Horizon bounds recurrence expansion after since.
	Horizon time.Duration

	fetcher *Fetcher
}

func NewICSFeed(url string, loc *time.Location, horizon time.Duration, fetcher *Fetcher) *ICSFeed {
	if fetcher == nil {
		fetcher = NewFetcher(nil, "")
	}
	if loc == nil {
		loc = time.Local
	}
	if horizon <= 0 {
		horizon = 366 * 24 * time.Hour
	}
	return &ICSFeed{URL: url, Location: loc, Horizon: horizon, fetcher: fetcher}
}

func (f *ICSFeed) Name() string { return "ics" }

func (f *ICSFeed) Fetch(ctx context.Context, since time.Time) ([]model.Record, error) {
	res, err := f.fetcher.Get(ctx, f.URL, nil)
	if err != nil {
		return nil, err
	}
	events, err := ics.Parse(res.Body, f.Location)
	if err != nil {
		return nil, fmt.Errorf("ics feed: %w", err)
	}

	start := model.Midnight(since.In(f.Location))
	occs, err := ics.Expand(events, ics.ExpandConfig{
		DisplayLocation: f.Location,
		RangeStart:      start,
		RangeEnd:        start.Add(f.Horizon),
	})
	if err != nil {
		return nil, fmt.Errorf("ics feed: %w", err)
	}

	out := make([]model.Record, 0, len(occs))
	for _, o := range occs {
		ev := o.Event
		r := model.Record{
			ID:              ev.UID + "/" + model.DateKey(o.Start),
			Date:            model.DateKey(o.Start),
			SessionType:     sessionTypeOf(ev),
			Label:           ev.Summary,
			Notes:           ev.Description,
			MaxCapacity:     ev.MaxCapacity,
			RegisteredCount: ev.RegisteredCount,
			IsActive:        true,
			IsCancelled:     ev.Cancelled,
		}
		if !ev.AllDay {
			r.TimeStart = o.Start.Format("15:04")
			r.TimeEnd = o.End.Format("15:04")
		}
		out = append(out, r)
	}

	appLog.Info("ics sessions fetched", "count", len(out), "from_cache", res.FromCache)
	return out, nil
}

func sessionTypeOf(ev ics.ParsedEvent) string {
	if ev.SessionType != "" {
		return ev.SessionType
	}
	for _, c := range ev.Categories {
		if t := model.ParseSessionType(c); t != model.TypeCustom {
			return string(t)
		}
	}
	return strings.ToLower(strings.Join(ev.Categories, ","))
}
