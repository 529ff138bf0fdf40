package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volcal/internal/model"
)

type mapLookup map[string]model.Session

func (m mapLookup) Get(k string) (model.Session, bool) {
	s, ok := m[k]
	return s, ok
}

func TestToggleIsItsOwnInverse(t *testing.T) {
	var s State
	s.Add("2025-12-06")
	s.Add("2025-12-16")
	before := s.Keys()

	for _, k := range []string{"2025-12-06", "2026-01-03", "2025-12-16"} {
		s.Toggle(k)
		s.Toggle(k)
		assert.ElementsMatch(t, before, s.Keys(), k)
	}
}

func TestToggleKeepsInsertionOrderAndNoDuplicates(t *testing.T) {
	var s State
	assert.True(t, s.Toggle("2026-01-20"))
	assert.True(t, s.Toggle("2025-12-06"))
	s.Add("2025-12-06")
	assert.Equal(t, []string{"2026-01-20", "2025-12-06"}, s.Keys())

	assert.False(t, s.Toggle("2026-01-20"))
	assert.Equal(t, []string{"2025-12-06"}, s.Keys())
}

func TestValidate(t *testing.T) {
	var s State
	assert.ErrorIs(t, s.Validate(), ErrEmptySelection)
	assert.False(t, s.Valid())

	s.Toggle("anything")
	assert.NoError(t, s.Validate())
	assert.True(t, s.Valid())

	s.Clear()
	assert.False(t, s.Valid())
}

func TestAsDisplayListSkipsVanishedAndRestarts(t *testing.T) {
	l := mapLookup{
		"2025-12-06": {Label: "First Saturday", Date: time.Date(2025, 12, 6, 0, 0, 0, 0, time.UTC)},
		"2025-12-16": {Label: "Third Tuesday", Date: time.Date(2025, 12, 16, 0, 0, 0, 0, time.UTC)},
	}
	var s State
	s.Add("2025-12-16")
	s.Add("2025-11-01")
	s.Add("2025-12-06")

	collect := func() []string {
		var out []string
		for k, sess := range s.AsDisplayList(l) {
			out = append(out, k+"/"+sess.Label)
		}
		return out
	}
	want := []string{"2025-12-16/Third Tuesday", "2025-12-06/First Saturday"}
	require.Equal(t, want, collect())
	assert.Equal(t, want, collect(), "sequence is restartable")

	for range s.AsDisplayList(l) {
		break
	}
}

func TestRetain(t *testing.T) {
	var s State
	s.Add("a")
	s.Add("b")
	s.Add("c")
	dropped := s.Retain(func(k string) bool { return k != "b" })
	assert.Equal(t, []string{"b"}, dropped)
	assert.Equal(t, []string{"a", "c"}, s.Keys())
}
