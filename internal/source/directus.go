package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "volcal/internal/log"
	"volcal/internal/model"
)

const DefaultCollection = "volunteer_sessions"

var directusFields = []string{
	"id", "date", "session_type", "time_start", "time_end", "label",
	"max_capacity", "registered_count", "is_active", "is_cancelled", "notes",
}

// Directus reads sessions from a Directus REST collection.
type Directus struct {
	BaseURL     string
	Collection  string
	AccessToken string

	fetcher *Fetcher
}

func NewDirectus(baseURL, collection, token string, fetcher *Fetcher) *Directus {
	if collection == "" {
		collection = DefaultCollection
	}
	if fetcher == nil {
		fetcher = NewFetcher(nil, "")
	}
	return &Directus{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Collection:  collection,
		AccessToken: token,
		fetcher:     fetcher,
	}
}

func (d *Directus) Name() string { return "directus" }

// ItemsURL builds the query for active sessions dated on or after since,
// sorted by date.
func (d *Directus) ItemsURL(since time.Time) string {
	q := url.Values{}
	q.Set("filter[is_active][_eq]", "true")
	q.Set("filter[date][_gte]", model.DateKey(since))
	q.Set("sort", "date")
	q.Set("fields", strings.Join(directusFields, ","))
	q.Set("limit", "-1")
	return d.BaseURL + "/items/" + url.PathEscape(d.Collection) + "?" + q.Encode()
}

type directusResponse struct {
	Data []json.RawMessage `json:"data"`
}

type directusSession struct {
	ID              any     `json:"id"`
	Date            string  `json:"date"`
	SessionType     string  `json:"session_type"`
	TimeStart       string  `json:"time_start"`
	TimeEnd         string  `json:"time_end"`
	Label           string  `json:"label"`
	MaxCapacity     flexInt `json:"max_capacity"`
	RegisteredCount flexInt `json:"registered_count"`
	IsActive        *bool   `json:"is_active"`
	IsCancelled     bool    `json:"is_cancelled"`
	Notes           *string `json:"notes"`
}

func (d *Directus) Fetch(ctx context.Context, since time.Time) ([]model.Record, error) {
	var header http.Header
	if d.AccessToken != "" {
		header = http.Header{"Authorization": []string{"Bearer " + d.AccessToken}}
	}

	res, err := d.fetcher.Get(ctx, d.ItemsURL(since), header)
	if err != nil {
		return nil, err
	}

	records, err := DecodeDirectus(res.Body)
	if err != nil {
		return nil, fmt.Errorf("directus: decode %s: %w", d.Collection, err)
	}

	sinceKey := model.DateKey(since)
	out := records[:0]
	for _, r := range records {
		// The server filter is repeated here in case a proxy or an older
		// Directus version ignores it.
		if !r.IsActive {
			continue
		}
		if len(r.Date) >= len(sinceKey) && r.Date[:len(sinceKey)] < sinceKey {
			continue
		}
		out = append(out, r)
	}

	appLog.Info("directus sessions fetched",
		"collection", d.Collection,
		"count", len(out),
		"from_cache", res.FromCache,
	)
	return out, nil
}

// DecodeDirectus converts a Directus items payload ({"data":[...]}) into
// records. A missing is_active counts as active. Records that cannot be
// decoded are logged and skipped; only a broken envelope is an error.
func DecodeDirectus(body []byte) ([]model.Record, error) {
	var payload directusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(payload.Data))
	for i, raw := range payload.Data {
		var s directusSession
		if err := json.Unmarshal(raw, &s); err != nil {
			appLog.Warn("directus: skipping malformed record", "index", i, "err", err)
			continue
		}
		r := model.Record{
			ID:              formatID(s.ID),
			Date:            s.Date,
			SessionType:     s.SessionType,
			TimeStart:       s.TimeStart,
			TimeEnd:         s.TimeEnd,
			Label:           s.Label,
			MaxCapacity:     int(s.MaxCapacity),
			RegisteredCount: int(s.RegisteredCount),
			IsActive:        s.IsActive == nil || *s.IsActive,
			IsCancelled:     s.IsCancelled,
		}
		if s.Notes != nil {
			r.Notes = *s.Notes
		}
		out = append(out, r)
	}
	return out, nil
}

// flexInt accepts numbers, numeric strings (Directus returns bigint and
// decimal columns as strings) and null. Anything else decodes to zero so
// record normalization falls back to its defaults.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = 0
	switch n := v.(type) {
	case float64:
		*f = flexInt(n)
	case string:
		if x, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			*f = flexInt(x)
		}
	}
	return nil
}

func formatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}
