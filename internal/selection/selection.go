// Package selection holds the ordered set of dates a visitor has chosen.
package selection

import (
	"errors"
	"iter"
	"slices"

	"volcal/internal/model"
)

// ErrEmptySelection signals the "select at least one date" condition.
var ErrEmptySelection = errors.New("select at least one date")

// Lookup resolves a date key to its session.
type Lookup interface {
	Get(dateKey string) (model.Session, bool)
}

// State is an insertion-ordered set of date keys. It does not check
// capacity; callers guard toggles. The zero value is ready to use.
type State struct {
	keys []string
}

// Toggle adds key if absent and removes it if present. It reports whether
// key is selected afterwards.
func (s *State) Toggle(key string) bool {
	if s.Remove(key) {
		return false
	}
	s.keys = append(s.keys, key)
	return true
}

// Add selects key unless already selected.
func (s *State) Add(key string) {
	if !s.Contains(key) {
		s.keys = append(s.keys, key)
	}
}

// Remove reports whether key was selected.
func (s *State) Remove(key string) bool {
	i := slices.Index(s.keys, key)
	if i < 0 {
		return false
	}
	s.keys = slices.Delete(s.keys, i, i+1)
	return true
}

func (s *State) Clear() {
	s.keys = nil
}

func (s *State) Contains(key string) bool {
	return slices.Contains(s.keys, key)
}

func (s *State) Len() int {
	return len(s.keys)
}

// Keys returns a copy in insertion order.
func (s *State) Keys() []string {
	return slices.Clone(s.keys)
}

// Validate returns ErrEmptySelection iff nothing is selected.
func (s *State) Validate() error {
	if len(s.keys) == 0 {
		return ErrEmptySelection
	}
	return nil
}

func (s *State) Valid() bool {
	return s.Validate() == nil
}

// Retain drops every key for which keep returns false.
func (s *State) Retain(keep func(key string) bool) (dropped []string) {
	kept := s.keys[:0]
	for _, k := range s.keys {
		if keep(k) {
			kept = append(kept, k)
		} else {
			dropped = append(dropped, k)
		}
	}
	s.keys = kept
	return dropped
}

// AsDisplayList yields (key, session) pairs in insertion order, skipping
// keys whose session is no longer known. Each range over the sequence
// starts again from a snapshot of the current keys.
func (s *State) AsDisplayList(l Lookup) iter.Seq2[string, model.Session] {
	return func(yield func(string, model.Session) bool) {
		for _, k := range s.Keys() {
			sess, ok := l.Get(k)
			if !ok {
				continue
			}
			if !yield(k, sess) {
				return
			}
		}
	}
}
