package render

import (
	"io"

	"volcal/internal/capacity"
	"volcal/internal/model"
)

type listRenderer struct{}

func (listRenderer) Mode() Mode { return ModeList }

type dateCard struct {
	Key        string
	Display    string
	Label      string
	Time       string
	Disabled   bool
	Selected   bool
	Badge      string
	Spots      string
	SpotsClass string
}

type monthSection struct {
	Title string
	Cards []dateCard
}

type listView struct {
	frame
	Months []monthSection
}

func (l listRenderer) Render(w io.Writer, in Input) error {
	if in.Loading {
		return renderLoading(w, ModeList)
	}
	return templates.ExecuteTemplate(w, "list", l.view(in))
}

func (listRenderer) view(in Input) listView {
	today := model.Midnight(in.Today)
	v := listView{frame: newFrame(ModeList, in)}

	for _, s := range in.Sessions {
		if s.Date.Before(today) {
			continue
		}
		if !in.WindowEnd.IsZero() && !s.Date.Before(in.WindowEnd) {
			continue
		}

		st := capacity.Evaluate(s)
		card := dateCard{
			Key:      s.Key(),
			Display:  s.DisplayDate(),
			Label:    s.Label,
			Time:     s.TimeLabel(),
			Disabled: st.IsFull || st.IsCancelled,
			Selected: contains(in.Selected, s.Key()),
		}
		switch {
		case st.IsCancelled:
			card.Badge = "CANCELLED"
		case st.IsFull:
			card.Badge = "FULL"
		default:
			card.Spots = spotsText(st)
			if st.IsLimited {
				card.SpotsClass = "limited"
			}
		}

		title := s.Date.Format("January 2006")
		if n := len(v.Months); n == 0 || v.Months[n-1].Title != title {
			v.Months = append(v.Months, monthSection{Title: title})
		}
		last := &v.Months[len(v.Months)-1]
		last.Cards = append(last.Cards, card)
	}
	return v
}
