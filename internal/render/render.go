// Package render projects sessions and a selection into widget markup.
// Renderers are pure: they read Input and write HTML, nothing else.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"volcal/internal/capacity"
	"volcal/internal/model"
)

// Mode selects the presentation.
type Mode string

const (
	ModeGrid Mode = "grid"
	ModeList Mode = "list"
)

// ParseMode maps a config value to a Mode, defaulting to grid.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeList)) {
		return ModeList
	}
	return ModeGrid
}

// Input is everything a renderer may look at.
type Input struct {
	// Sessions sorted by date.
	Sessions []model.Session
	// Selected date keys in insertion order.
	Selected []string

	Today time.Time
	// Cursor is any time within the month shown in grid mode.
	Cursor time.Time
	// WindowEnd bounds list mode (exclusive).
	WindowEnd time.Time
	WeekStart time.Weekday

	Loading      bool
	ErrorVisible bool

	// ActionBase prefixes the POST targets of interactive elements.
	ActionBase string
}

// Renderer is implemented by the grid and list views.
type Renderer interface {
	Mode() Mode
	Render(w io.Writer, in Input) error
}

// New returns the renderer for mode.
func New(mode Mode) Renderer {
	if mode == ModeList {
		return listRenderer{}
	}
	return gridRenderer{}
}

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("widget").ParseFS(templateFS, "templates/*.tmpl"))

const errorMessage = "Please select at least one date"

type frame struct {
	Mode         Mode
	ErrorVisible bool
	ErrorMessage string
	ActionBase   string
}

func newFrame(mode Mode, in Input) frame {
	return frame{Mode: mode, ErrorVisible: in.ErrorVisible, ErrorMessage: errorMessage, ActionBase: in.ActionBase}
}

func renderLoading(w io.Writer, mode Mode) error {
	return templates.ExecuteTemplate(w, "loading", struct{ Mode Mode }{mode})
}

// sessionIndex keys sessions by date for the grid and selected list.
func sessionIndex(sessions []model.Session) map[string]model.Session {
	out := make(map[string]model.Session, len(sessions))
	for _, s := range sessions {
		out[s.Key()] = s
	}
	return out
}

type selectedItem struct {
	Key        string
	Display    string
	Label      string
	BadgeClass string
	Time       string
	Notes      string
}

func selectedItems(in Input, idx map[string]model.Session) []selectedItem {
	out := make([]selectedItem, 0, len(in.Selected))
	for _, k := range in.Selected {
		s, ok := idx[k]
		if !ok {
			continue
		}
		out = append(out, selectedItem{
			Key:        k,
			Display:    s.DisplayDate(),
			Label:      s.Label,
			BadgeClass: "selected-date-badge " + badgeType(s.Type),
			Time:       s.TimeLabel(),
			Notes:      s.Notes,
		})
	}
	return out
}

func badgeType(t model.SessionType) string {
	switch t {
	case model.TypeSaturday, model.TypeTuesday:
		return string(t)
	default:
		return string(model.TypeSpecial)
	}
}

func spotsText(st capacity.Status) string {
	if st.Available == 1 {
		return "1 spot available"
	}
	return fmt.Sprintf("%d spots available", st.Available)
}

func contains(keys []string, k string) bool {
	for _, s := range keys {
		if s == k {
			return true
		}
	}
	return false
}
