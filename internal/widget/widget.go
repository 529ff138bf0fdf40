// Package widget orchestrates one visitor's calendar: it owns the selection,
// routes events into it and re-renders into a Container after each change.
package widget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"volcal/internal/capacity"
	appLog "volcal/internal/log"
	"volcal/internal/model"
	"volcal/internal/render"
	"volcal/internal/selection"
)

var (
	ErrNoContainer = errors.New("widget: container not found")
	ErrDestroyed   = errors.New("widget: destroyed")
)

// Repository is the slice of repository.Repository the widget depends on.
type Repository interface {
	Load(ctx context.Context) error
	Refresh(ctx context.Context) error
	Loaded() bool
	Get(dateKey string) (model.Session, bool)
	Sessions() []model.Session
	Today() time.Time
}

// Container receives the widget markup every time it is rendered.
// Implementations that cannot accept markup (for example a nil pointer)
// return ErrNoContainer.
type Container interface {
	Replace(markup string) error
}

// Observer is told about every dispatched event. metrics.WidgetMetrics
// implements it.
type Observer interface {
	ObserveEvent(event string, accepted bool)
}

type EventType string

const (
	EventToggle EventType = "toggle"
	EventRemove EventType = "remove"
	EventPrev   EventType = "prev"
	EventNext   EventType = "next"
)

type Event struct {
	Type    EventType
	DateKey string
}

type Options struct {
	Mode render.Mode
	// MonthsAhead bounds the list view window.
	MonthsAhead int
	WeekStart   time.Weekday
	// ActionBase prefixes form targets in the markup, e.g. "/widget".
	ActionBase string
	// OnSelectionChange runs synchronously after every accepted toggle or
	// remove with the display-formatted selection.
	OnSelectionChange func(selected []string)
	Observer          Observer
}

// SelectedDate is the machine form of a selected date. SessionID is nil for
// placeholder sessions.
type SelectedDate struct {
	Date      string            `json:"date"`
	SessionID *string           `json:"sessionId"`
	Label     string            `json:"label"`
	Time      string            `json:"time"`
	Type      model.SessionType `json:"type"`
}

type Widget struct {
	repo     Repository
	opts     Options
	renderer render.Renderer

	mu           sync.Mutex
	container    Container
	sel          selection.State
	cursor       time.Time
	loading      bool
	errorVisible bool
	attached     bool
	alive        bool
}

// New builds a detached widget. Nothing is rendered until Initialize.
func New(repo Repository, opts Options) *Widget {
	if opts.MonthsAhead <= 0 {
		opts.MonthsAhead = 6
	}
	if opts.Mode == "" {
		opts.Mode = render.ModeGrid
	}
	today := repo.Today()
	return &Widget{
		repo:     repo,
		opts:     opts,
		renderer: render.New(opts.Mode),
		cursor:   time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()),
		alive:    true,
	}
}

// Initialize renders a loading view, waits for the repository, renders the
// calendar and only then starts accepting events. A nil container aborts
// with a logged diagnostic.
func (w *Widget) Initialize(ctx context.Context, c Container) error {
	if c == nil {
		appLog.Error("widget: initialize aborted", ErrNoContainer)
		return ErrNoContainer
	}

	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return ErrDestroyed
	}
	w.container = c
	w.loading = true
	if err := w.renderLocked(); errors.Is(err, ErrNoContainer) {
		w.container = nil
		w.loading = false
		w.mu.Unlock()
		appLog.Error("widget: initialize aborted", err)
		return ErrNoContainer
	}
	w.mu.Unlock()

	if !w.repo.Loaded() {
		if err := w.repo.Load(ctx); err != nil {
			appLog.Error("widget: repository load failed", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.alive {
		return ErrDestroyed
	}
	w.loading = false
	w.renderLocked()
	w.attached = true
	return nil
}

// Dispatch applies an event and reports whether it changed anything.
// Events arriving before Initialize finishes or after Destroy are ignored.
func (w *Widget) Dispatch(ev Event) bool {
	w.mu.Lock()
	if !w.alive || !w.attached {
		w.mu.Unlock()
		appLog.Debug("widget: event ignored, not attached", "event", ev.Type)
		return false
	}

	accepted, selectionChanged := w.applyLocked(ev)
	var selected []string
	if accepted {
		if selectionChanged {
			if w.sel.Len() > 0 {
				w.errorVisible = false
			}
			selected = w.selectedDatesLocked()
		}
		w.renderLocked()
	}
	cb := w.opts.OnSelectionChange
	obs := w.opts.Observer
	w.mu.Unlock()

	if obs != nil {
		obs.ObserveEvent(string(ev.Type), accepted)
	}
	if selectionChanged && cb != nil {
		cb(selected)
	}
	return accepted
}

func (w *Widget) applyLocked(ev Event) (accepted, selectionChanged bool) {
	switch ev.Type {
	case EventToggle:
		// Capacity may have changed since the markup was rendered.
		if !capacity.Selectable(w.repo, ev.DateKey, w.repo.Today()) {
			if !w.sel.Contains(ev.DateKey) {
				return false, false
			}
		}
		w.sel.Toggle(ev.DateKey)
		return true, true
	case EventRemove:
		ok := w.sel.Remove(ev.DateKey)
		return ok, ok
	case EventPrev:
		w.cursor = w.cursor.AddDate(0, -1, 0)
		return true, false
	case EventNext:
		w.cursor = w.cursor.AddDate(0, 1, 0)
		return true, false
	default:
		appLog.Warn("widget: unknown event", "event", ev.Type)
		return false, false
	}
}

// GetSelectedDates returns the selection formatted for form submission,
// e.g. "Saturday, December 6, 2025 (First Saturday - 10am - 12pm)".
func (w *Widget) GetSelectedDates() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selectedDatesLocked()
}

func (w *Widget) selectedDatesLocked() []string {
	out := make([]string, 0, w.sel.Len())
	for _, s := range w.sel.AsDisplayList(w.repo) {
		out = append(out, FormatSelected(s))
	}
	return out
}

// FormatSelected renders a session the way GetSelectedDates does.
func FormatSelected(s model.Session) string {
	if t := s.TimeLabel(); t != "" {
		return fmt.Sprintf("%s (%s - %s)", s.DisplayDate(), s.Label, t)
	}
	return fmt.Sprintf("%s (%s)", s.DisplayDate(), s.Label)
}

// GetSelectedDatesData returns the selection as structured records.
func (w *Widget) GetSelectedDatesData() []SelectedDate {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]SelectedDate, 0, w.sel.Len())
	for key, s := range w.sel.AsDisplayList(w.repo) {
		d := SelectedDate{
			Date:  key,
			Label: s.Label,
			Time:  s.TimeLabel(),
			Type:  s.Type,
		}
		if s.SourceID != "" {
			id := s.SourceID
			d.SessionID = &id
		}
		out = append(out, d)
	}
	return out
}

// Validate reports whether at least one date is selected and shows or
// hides the inline error accordingly.
func (w *Widget) Validate() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.sel.Validate()
	w.errorVisible = errors.Is(err, selection.ErrEmptySelection)
	if w.attached && w.alive {
		w.renderLocked()
	}
	return err == nil
}

// Refresh reloads the repository and drops selections whose date vanished.
func (w *Widget) Refresh(ctx context.Context) error {
	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return ErrDestroyed
	}
	w.loading = true
	w.renderLocked()
	w.mu.Unlock()

	err := w.repo.Refresh(ctx)
	if err != nil {
		appLog.Error("widget: refresh failed", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.alive {
		return ErrDestroyed
	}
	w.loading = false
	dropped := w.sel.Retain(func(key string) bool {
		_, ok := w.repo.Get(key)
		return ok
	})
	if len(dropped) > 0 {
		appLog.Info("widget: dropped vanished selections", "count", len(dropped))
	}
	w.renderLocked()
	return err
}

// Destroy detaches the widget. Pending loads and later events are ignored.
func (w *Widget) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alive = false
	w.attached = false
	w.container = nil
}

func (w *Widget) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

// Cursor returns the first day of the month shown in grid mode.
func (w *Widget) Cursor() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

func (w *Widget) ErrorVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errorVisible
}

func (w *Widget) input() render.Input {
	today := w.repo.Today()
	return render.Input{
		Sessions:     w.repo.Sessions(),
		Selected:     w.sel.Keys(),
		Today:        today,
		Cursor:       w.cursor,
		WindowEnd:    time.Date(today.Year(), today.Month()+time.Month(w.opts.MonthsAhead), 1, 0, 0, 0, 0, today.Location()),
		WeekStart:    w.opts.WeekStart,
		Loading:      w.loading,
		ErrorVisible: w.errorVisible,
		ActionBase:   w.opts.ActionBase,
	}
}

func (w *Widget) renderLocked() error {
	if w.container == nil {
		return ErrNoContainer
	}
	var buf bytes.Buffer
	if err := w.renderer.Render(&buf, w.input()); err != nil {
		appLog.Error("widget: render failed", err, "mode", w.opts.Mode)
		return err
	}
	if err := w.container.Replace(buf.String()); err != nil {
		appLog.Error("widget: container rejected markup", err)
		return err
	}
	return nil
}
