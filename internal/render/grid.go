package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"volcal/internal/capacity"
	"volcal/internal/model"
)

type gridRenderer struct{}

func (gridRenderer) Mode() Mode { return ModeGrid }

type dayCell struct {
	Empty       bool
	Day         int
	Key         string
	Class       string
	Interactive bool
	Badge       string
	BadgeClass  string
	Title       string
}

type gridView struct {
	frame
	Title    string
	Weekdays []string
	Cells    []dayCell
	Selected []selectedItem
}

var weekdayAbbr = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func (g gridRenderer) Render(w io.Writer, in Input) error {
	if in.Loading {
		return renderLoading(w, ModeGrid)
	}
	return templates.ExecuteTemplate(w, "grid", g.view(in))
}

func (gridRenderer) view(in Input) gridView {
	loc := in.Cursor.Location()
	first := time.Date(in.Cursor.Year(), in.Cursor.Month(), 1, 0, 0, 0, 0, loc)
	daysInMonth := first.AddDate(0, 1, -1).Day()
	today := model.Midnight(in.Today.In(loc))
	idx := sessionIndex(in.Sessions)

	v := gridView{
		frame: newFrame(ModeGrid, in),
		Title: first.Format("January 2006"),
	}
	for i := 0; i < 7; i++ {
		v.Weekdays = append(v.Weekdays, weekdayAbbr[(int(in.WeekStart)+i)%7])
	}

	lead := (int(first.Weekday()) - int(in.WeekStart) + 7) % 7
	for i := 0; i < lead; i++ {
		v.Cells = append(v.Cells, dayCell{Empty: true})
	}

	for day := 1; day <= daysInMonth; day++ {
		date := time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, loc)
		key := model.DateKey(date)
		cell := dayCell{Day: day, Key: key}
		classes := []string{"calendar-day"}

		s, ok := idx[key]
		past := date.Before(today)
		switch {
		case ok && !past:
			st := capacity.Evaluate(s)
			classes = append(classes, "volunteer-date")
			switch {
			case st.IsCancelled:
				classes = append(classes, "cancelled")
				cell.Badge, cell.BadgeClass = "Cancelled", "day-status cancelled"
				cell.Title = s.Label + " - Cancelled"
			case st.IsFull:
				classes = append(classes, "full")
				cell.Badge, cell.BadgeClass = "Full", "day-status full"
				cell.Title = s.Label + " - Full"
			default:
				classes = append(classes, "available")
				cell.Interactive = true
				if st.IsLimited {
					cell.Badge = fmt.Sprintf("%d left", st.Available)
					cell.BadgeClass = "day-status limited"
				}
				cell.Title = s.Label + "\n" + s.TimeLabel() + "\n" + spotsText(st)
			}
			if contains(in.Selected, key) {
				classes = append(classes, "selected")
			}
			classes = append(classes, string(s.Type))
		case past:
			classes = append(classes, "past")
		}
		cell.Class = strings.Join(classes, " ")
		v.Cells = append(v.Cells, cell)
	}

	v.Selected = selectedItems(in, idx)
	return v
}
