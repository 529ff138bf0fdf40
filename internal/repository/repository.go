// Package repository keeps the authoritative date-keyed session index.
package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"volcal/internal/capacity"
	appLog "volcal/internal/log"
	"volcal/internal/model"
	"volcal/internal/recurrence"
	"volcal/internal/source"
)

// Origin tells where the current index came from.
type Origin string

const (
	OriginNone     Origin = ""
	OriginRemote   Origin = "remote"
	OriginFallback Origin = "fallback"
	OriginEmpty    Origin = "empty"
)

// ErrClosed is returned by Load/Refresh after Close.
var ErrClosed = errors.New("repository closed")

const defaultFetchTimeout = 15 * time.Second

// Options mirrors the data-related widget options.
type Options struct {
	// MonthsAhead is the fallback look-ahead window in months.
	MonthsAhead int
	// MaxCapacity is the default capacity for records without one.
	MaxCapacity int
	// UseFallbackDates enables computed placeholders when the source is
	// missing or failing.
	UseFallbackDates bool
	// MergeFallback overlays remote records on top of placeholders instead
	// of replacing them.
	MergeFallback bool
	// FetchTimeout bounds a single source fetch.
	FetchTimeout time.Duration
	Location     *time.Location
	Rules        []recurrence.Rule
}

func (o *Options) normalize() {
	if o.MonthsAhead <= 0 {
		o.MonthsAhead = 6
	}
	if o.MaxCapacity <= 0 {
		o.MaxCapacity = model.DefaultMaxCapacity
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = defaultFetchTimeout
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if len(o.Rules) == 0 {
		o.Rules = recurrence.DefaultRules()
	}
}

// Observer receives load outcomes. metrics.RepositoryMetrics implements it.
type Observer interface {
	ObserveLoad(source string, origin string, sessions int, d time.Duration)
}

// Repository owns the session index. Loads build a new index off to the
// side and swap it in whole, so readers never see a partial merge.
type Repository struct {
	opts     Options
	src      source.Source
	clock    func() time.Time
	observer Observer

	mu       sync.RWMutex
	index    map[string]model.Session
	origin   Origin
	loadedAt time.Time
	gen      uint64
	closed   bool

	group singleflight.Group
}

// New creates a repository. src may be nil (no remote source configured);
// clock may be nil for time.Now.
func New(opts Options, src source.Source, clock func() time.Time) *Repository {
	opts.normalize()
	if clock == nil {
		clock = time.Now
	}
	return &Repository{
		opts:  opts,
		src:   src,
		clock: clock,
		index: map[string]model.Session{},
	}
}

// SetObserver attaches a load observer.
func (r *Repository) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// Options returns the normalized options.
func (r *Repository) Options() Options {
	return r.opts
}

// Today returns local midnight of the injected clock in the display location.
func (r *Repository) Today() time.Time {
	return model.Midnight(r.clock().In(r.opts.Location))
}

// Load populates the index. Source failures are logged and degrade to
// placeholders or an empty index; the only error is ErrClosed or a
// canceled ctx.
func (r *Repository) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	started := time.Now()
	index, origin := r.build(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if gen != r.gen {
		appLog.Debug("repository: discarding stale load", "generation", gen, "current", r.gen)
		return nil
	}
	r.index = index
	r.origin = origin
	r.loadedAt = r.clock()
	if r.observer != nil {
		r.observer.ObserveLoad(r.sourceName(), string(origin), len(index), time.Since(started))
	}
	appLog.Info("repository loaded", "origin", origin, "sessions", len(index))
	return nil
}

// Refresh rebuilds the index. Calls made while a refresh is running join
// it instead of starting a second fetch.
func (r *Repository) Refresh(ctx context.Context) error {
	ch := r.group.DoChan("refresh", func() (any, error) {
		// Detached from the first caller's ctx so one caller giving up
		// does not cancel the fetch for the others; the fetch timeout
		// still bounds it.
		return nil, r.Load(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops any in-flight result and rejects further loads.
func (r *Repository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *Repository) build(ctx context.Context) (map[string]model.Session, Origin) {
	today := r.Today()

	if r.src == nil {
		if r.opts.UseFallbackDates {
			return r.placeholders(today), OriginFallback
		}
		return map[string]model.Session{}, OriginEmpty
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	records, err := r.src.Fetch(fetchCtx, today)
	if err != nil {
		if r.opts.UseFallbackDates {
			appLog.Error("repository: source failed, using fallback dates", err, "source", r.src.Name())
			return r.placeholders(today), OriginFallback
		}
		appLog.Error("repository: source failed, index left empty", err, "source", r.src.Name())
		return map[string]model.Session{}, OriginEmpty
	}

	index := map[string]model.Session{}
	if r.opts.MergeFallback && r.opts.UseFallbackDates {
		index = r.placeholders(today)
	}
	for _, rec := range records {
		s, err := rec.Normalize(r.opts.Location, r.opts.MaxCapacity)
		if err != nil {
			appLog.Warn("repository: skipping record with unusable date", "id", rec.ID, "date", rec.Date)
			continue
		}
		if s.Date.Before(today) {
			continue
		}
		// Remote always supersedes a placeholder for the same day.
		index[s.Key()] = s
	}
	return index, OriginRemote
}

// placeholders computes rule sessions for MonthsAhead months starting with
// the current one, skipping anything before today.
func (r *Repository) placeholders(today time.Time) map[string]model.Session {
	out := map[string]model.Session{}
	for i := 0; i < r.opts.MonthsAhead; i++ {
		m := time.Date(today.Year(), today.Month()+time.Month(i), 1, 0, 0, 0, 0, today.Location())
		for _, rule := range r.opts.Rules {
			s := rule.Placeholder(m.Year(), m.Month(), today.Location(), r.opts.MaxCapacity)
			if s.Date.Before(today) {
				continue
			}
			out[s.Key()] = s
		}
	}
	return out
}

func (r *Repository) sourceName() string {
	if r.src == nil {
		return "none"
	}
	return r.src.Name()
}

// Get implements the capacity and selection lookups.
func (r *Repository) Get(dateKey string) (model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.index[dateKey]
	return s, ok
}

// Sessions returns all sessions sorted by date.
func (r *Repository) Sessions() []model.Session {
	r.mu.RLock()
	out := make([]model.Session, 0, len(r.index))
	for _, s := range r.index {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Upcoming returns bookable-or-not sessions from today to the end of the
// look-ahead window.
func (r *Repository) Upcoming() []model.Session {
	today := r.Today()
	end := time.Date(today.Year(), today.Month()+time.Month(r.opts.MonthsAhead), 1, 0, 0, 0, 0, today.Location())
	all := r.Sessions()
	out := all[:0]
	for _, s := range all {
		if s.Date.Before(today) || !s.Date.Before(end) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Status evaluates capacity for a date key.
func (r *Repository) Status(dateKey string) capacity.Status {
	return capacity.ForKey(r, dateKey)
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// Loaded reports whether any load has completed.
func (r *Repository) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.origin != OriginNone
}

func (r *Repository) Origin() Origin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.origin
}

func (r *Repository) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}
