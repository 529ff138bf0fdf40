package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"volcal/internal/capacity"
	"volcal/internal/ics"
	appLog "volcal/internal/log"
	"volcal/internal/model"
	"volcal/internal/repository"
	"volcal/internal/widget"
)

// selectionResponse is the JSON shape for /api/selection and for widget
// actions requested with Accept: application/json.
type selectionResponse struct {
	Dates        []string              `json:"dates"`
	Data         []widget.SelectedDate `json:"data"`
	Valid        bool                  `json:"valid"`
	Accepted     *bool                 `json:"accepted,omitempty"`
	ErrorVisible bool                  `json:"error_visible"`
}

func selectionOf(w *widget.Widget) selectionResponse {
	dates := w.GetSelectedDates()
	return selectionResponse{
		Dates:        dates,
		Data:         w.GetSelectedDatesData(),
		Valid:        len(dates) > 0,
		ErrorVisible: w.ErrorVisible(),
	}
}

// respond finishes a widget action: JSON callers get the selection, form
// posts are redirected back to the page (post/redirect/get).
func respond(w http.ResponseWriter, r *http.Request, resp selectionResponse) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleEvent(typ widget.EventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev := widget.Event{Type: typ}
		if typ == widget.EventToggle || typ == widget.EventRemove {
			key := chi.URLParam(r, "date")
			if _, err := model.ParseDateKey(key, s.repo.Options().Location); err != nil {
				writeError(w, http.StatusBadRequest, "invalid date")
				return
			}
			ev.DateKey = key
		}

		e := s.widgets.forRequest(w, r)
		accepted := e.widget.Dispatch(ev)
		resp := selectionOf(e.widget)
		resp.Accepted = &accepted
		respond(w, r, resp)
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	e := s.widgets.forRequest(w, r)
	e.widget.Validate()
	respond(w, r, selectionOf(e.widget))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	e := s.widgets.forRequest(w, r)
	if err := e.widget.Refresh(r.Context()); err != nil {
		appLog.Error("web: widget refresh failed", err)
	}
	respond(w, r, selectionOf(e.widget))
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	e := s.widgets.forRequest(w, r)
	writeJSON(w, http.StatusOK, selectionOf(e.widget))
}

type sessionDTO struct {
	Date        string            `json:"date"`
	DisplayDate string            `json:"display_date"`
	Type        model.SessionType `json:"type"`
	Label       string            `json:"label"`
	Time        string            `json:"time"`
	Notes       string            `json:"notes,omitempty"`
	SessionID   *string           `json:"session_id"`
	Placeholder bool              `json:"placeholder"`
	Capacity    capacity.Status   `json:"capacity"`
	Selectable  bool              `json:"selectable"`
}

type sessionsResponse struct {
	Origin   repository.Origin `json:"origin"`
	LoadedAt time.Time         `json:"loaded_at"`
	Today    string            `json:"today"`
	Sessions []sessionDTO      `json:"sessions"`
}

// handleSessions lists upcoming sessions with their capacity status.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.repo.Loaded() {
		if err := s.repo.Load(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
			return
		}
	}

	today := s.repo.Today()
	upcoming := s.repo.Upcoming()
	dtos := make([]sessionDTO, 0, len(upcoming))
	for _, sess := range upcoming {
		d := sessionDTO{
			Date:        sess.Key(),
			DisplayDate: sess.DisplayDate(),
			Type:        sess.Type,
			Label:       sess.Label,
			Time:        sess.TimeLabel(),
			Notes:       sess.Notes,
			Placeholder: sess.Placeholder,
			Capacity:    capacity.Evaluate(sess),
			Selectable:  capacity.Bookable(sess, today),
		}
		if sess.SourceID != "" {
			id := sess.SourceID
			d.SessionID = &id
		}
		dtos = append(dtos, d)
	}

	writeJSON(w, http.StatusOK, sessionsResponse{
		Origin:   s.repo.Origin(),
		LoadedAt: s.repo.LoadedAt(),
		Today:    model.DateKey(today),
		Sessions: dtos,
	})
}

// handleCalendar exports upcoming sessions as an iCalendar feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if !s.repo.Loaded() {
		if err := s.repo.Load(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
			return
		}
	}
	body := ics.Export(s.repo.Upcoming(), "Volunteer Sessions", s.clock())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="volunteer-sessions.ics"`)
	_, _ = w.Write([]byte(body))
}
