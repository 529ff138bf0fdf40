package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "volcal/internal/log"
	"volcal/internal/metrics"
	"volcal/internal/widget"
)

const widgetCookie = "volcal_widget"

type widgetEntry struct {
	id        string
	widget    *widget.Widget
	container *widget.BufferContainer
	lastSeen  time.Time
}

// widgetStore keeps one widget per visitor cookie. Selections live only as
// long as the entry; nothing is persisted.
type widgetStore struct {
	build   func() *widget.Widget
	ttl     time.Duration
	clock   func() time.Time
	metrics *metrics.WidgetMetrics

	mu      sync.Mutex
	entries map[string]*widgetEntry
}

func newWidgetStore(build func() *widget.Widget, ttl time.Duration, clock func() time.Time, m *metrics.WidgetMetrics) *widgetStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &widgetStore{
		build:   build,
		ttl:     ttl,
		clock:   clock,
		metrics: m,
		entries: map[string]*widgetEntry{},
	}
}

// forRequest returns the visitor's widget, creating and initializing one
// (and setting the cookie) when the request carries no live widget.
func (st *widgetStore) forRequest(w http.ResponseWriter, r *http.Request) *widgetEntry {
	if c, err := r.Cookie(widgetCookie); err == nil {
		if e := st.touch(c.Value); e != nil {
			return e
		}
	}

	e := &widgetEntry{
		id:        uuid.NewString(),
		widget:    st.build(),
		container: &widget.BufferContainer{},
	}
	if err := e.widget.Initialize(r.Context(), e.container); err != nil {
		appLog.Error("web: widget initialize failed", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     widgetCookie,
		Value:    e.id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	st.mu.Lock()
	e.lastSeen = st.clock()
	st.entries[e.id] = e
	n := len(st.entries)
	st.mu.Unlock()

	st.metrics.SetActive(n)
	appLog.Debug("web: widget created", "id", e.id, "active", n)
	return e
}

func (st *widgetStore) touch(id string) *widgetEntry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[id]
	if !ok {
		return nil
	}
	e.lastSeen = st.clock()
	return e
}

func (st *widgetStore) sweep() int {
	cutoff := st.clock().Add(-st.ttl)

	st.mu.Lock()
	var stale []*widgetEntry
	for id, e := range st.entries {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e)
			delete(st.entries, id)
		}
	}
	n := len(st.entries)
	st.mu.Unlock()

	for _, e := range stale {
		e.widget.Destroy()
	}
	st.metrics.SetActive(n)
	if len(stale) > 0 {
		appLog.Info("web: swept idle widgets", "removed", len(stale), "active", n)
	}
	return len(stale)
}

func (st *widgetStore) closeAll() {
	st.mu.Lock()
	entries := st.entries
	st.entries = map[string]*widgetEntry{}
	st.mu.Unlock()

	for _, e := range entries {
		e.widget.Destroy()
	}
	st.metrics.SetActive(0)
}

func (st *widgetStore) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}
