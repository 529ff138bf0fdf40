// Package source reads volunteer session records from remote systems.
package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"volcal/internal/model"
)

// Source delivers raw session records dated on or after since.
type Source interface {
	Name() string
	Fetch(ctx context.Context, since time.Time) ([]model.Record, error)
}

// Static serves a fixed record list. It backs the `dates --records` command
// and tests.
type Static struct {
	Records []model.Record
	Err     error
}

func (s *Static) Name() string { return "static" }

func (s *Static) Fetch(_ context.Context, since time.Time) ([]model.Record, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	sinceKey := model.DateKey(since)
	out := make([]model.Record, 0, len(s.Records))
	for _, r := range s.Records {
		if len(r.Date) >= len(model.DateKeyLayout) && r.Date[:len(model.DateKeyLayout)] < sinceKey {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadStatic reads a Directus-shaped JSON export ({"data":[...]}) from path.
// Inactive records are dropped.
func LoadStatic(path string) (*Static, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	records, err := DecodeDirectus(body)
	if err != nil {
		return nil, fmt.Errorf("records file %s: %w", path, err)
	}
	active := records[:0]
	for _, r := range records {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return &Static{Records: active}, nil
}
