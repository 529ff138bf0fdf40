package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volcal/internal/model"
	"volcal/internal/source"
)

func fixedClock(s string) func() time.Time {
	t, _ := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	return func() time.Time { return t }
}

func keys(r *Repository) []string {
	var out []string
	for _, s := range r.Sessions() {
		out = append(out, s.Key())
	}
	return out
}

func TestFallbackFromTodayInclusive(t *testing.T) {
	r := New(Options{UseFallbackDates: true, MonthsAhead: 2, Location: time.UTC}, nil, fixedClock("2025-01-10 14:30"))
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, OriginFallback, r.Origin())
	// Jan 4 is past; Jan 21 is still ahead of Jan 10.
	assert.Equal(t, []string{"2025-01-21", "2025-02-01", "2025-02-18"}, keys(r))

	s, ok := r.Get("2025-02-01")
	require.True(t, ok)
	assert.True(t, s.Placeholder)
	assert.Empty(t, s.SourceID)
	assert.Equal(t, model.TypeSaturday, s.Type)
	assert.Equal(t, 50, s.MaxCapacity)
}

func TestFallbackIncludesToday(t *testing.T) {
	r := New(Options{UseFallbackDates: true, MonthsAhead: 1, Location: time.UTC}, nil, fixedClock("2025-01-21 23:59"))
	require.NoError(t, r.Load(context.Background()))
	_, ok := r.Get("2025-01-21")
	assert.True(t, ok)
}

func TestFallbackNeverBeforeToday(t *testing.T) {
	for d := 0; d < 400; d += 7 {
		now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC).AddDate(0, 0, d)
		r := New(Options{UseFallbackDates: true, MonthsAhead: 12, Location: time.UTC}, nil, func() time.Time { return now })
		require.NoError(t, r.Load(context.Background()))
		for _, s := range r.Sessions() {
			require.False(t, s.Date.Before(model.Midnight(now)), "%s before %s", s.Key(), now)
			require.NotEqual(t, model.TypeSpecial, s.Type)
		}
	}
}

func TestNoSourceNoFallbackIsEmpty(t *testing.T) {
	r := New(Options{UseFallbackDates: false}, nil, fixedClock("2025-01-10 00:00"))
	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, OriginEmpty, r.Origin())
	assert.Zero(t, r.Len())
	assert.True(t, r.Loaded())
}

func TestRemoteRecordsNormalized(t *testing.T) {
	src := &source.Static{Records: []model.Record{
		{ID: "1", Date: "2025-12-06", SessionType: "saturday", MaxCapacity: 50, RegisteredCount: 45, IsActive: true},
		{ID: "2", Date: "2025-12-10", SessionType: "special", IsActive: true},
		{ID: "3", Date: "garbage", IsActive: true},
	}}
	r := New(Options{UseFallbackDates: true, MaxCapacity: 30, Location: time.UTC}, src, fixedClock("2025-12-01 08:00"))
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, OriginRemote, r.Origin())
	assert.Equal(t, []string{"2025-12-06", "2025-12-10"}, keys(r))

	st := r.Status("2025-12-06")
	assert.True(t, st.IsLimited)
	assert.Equal(t, 5, st.Available)

	special, _ := r.Get("2025-12-10")
	assert.Equal(t, 30, special.MaxCapacity)
	assert.Equal(t, "Special Session", special.Label)
}

func TestRemoteWinsOverPlaceholder(t *testing.T) {
	src := &source.Static{Records: []model.Record{
		{ID: "77", Date: "2025-02-01", SessionType: "saturday", Label: "Winter Saturday", RegisteredCount: 12, IsActive: true},
	}}
	r := New(Options{UseFallbackDates: true, MergeFallback: true, MonthsAhead: 2, Location: time.UTC}, src, fixedClock("2025-01-10 00:00"))
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, []string{"2025-01-21", "2025-02-01", "2025-02-18"}, keys(r))
	s, _ := r.Get("2025-02-01")
	assert.Equal(t, "77", s.SourceID)
	assert.False(t, s.Placeholder)
	assert.Equal(t, "Winter Saturday", s.Label)
}

func TestSourceFailure(t *testing.T) {
	src := &source.Static{Err: errors.New("connection refused")}

	r := New(Options{UseFallbackDates: false}, src, fixedClock("2025-01-10 00:00"))
	require.NoError(t, r.Load(context.Background()))
	assert.Zero(t, r.Len())
	assert.Equal(t, OriginEmpty, r.Origin())

	r = New(Options{UseFallbackDates: true, MonthsAhead: 1, Location: time.UTC}, src, fixedClock("2025-01-10 00:00"))
	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, OriginFallback, r.Origin())
	assert.Equal(t, []string{"2025-01-21"}, keys(r))
}

func TestRefreshReplacesWholeIndex(t *testing.T) {
	src := &source.Static{Records: []model.Record{
		{ID: "1", Date: "2025-12-06", IsActive: true},
		{ID: "2", Date: "2025-12-16", IsActive: true},
	}}
	r := New(Options{UseFallbackDates: false, Location: time.UTC}, src, fixedClock("2025-12-01 00:00"))
	require.NoError(t, r.Load(context.Background()))
	require.Equal(t, 2, r.Len())

	src.Records = src.Records[1:]
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, []string{"2025-12-16"}, keys(r))

	src.Err = errors.New("timeout")
	require.NoError(t, r.Refresh(context.Background()))
	assert.Zero(t, r.Len(), "failed refresh without fallback is empty, never stale+new")
}

// blockingSource returns a different record set per call and lets the test
// decide when each call completes.
type blockingSource struct {
	calls   atomic.Int32
	release []chan struct{}
}

func (b *blockingSource) Name() string { return "blocking" }

func (b *blockingSource) Fetch(ctx context.Context, _ time.Time) ([]model.Record, error) {
	n := int(b.calls.Add(1)) - 1
	select {
	case <-b.release[n]:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	date := []string{"2025-12-06", "2025-12-16"}[n]
	return []model.Record{{ID: date, Date: date, IsActive: true}}, nil
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	src := &blockingSource{release: []chan struct{}{make(chan struct{}), make(chan struct{})}}
	r := New(Options{Location: time.UTC}, src, fixedClock("2025-12-01 00:00"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.Load(context.Background())
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.Load(context.Background())
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, time.Second, time.Millisecond)

	close(src.release[1])
	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, time.Millisecond)
	close(src.release[0])
	wg.Wait()

	assert.Equal(t, []string{"2025-12-16"}, keys(r), "older response must not overwrite newer")
}

func TestConcurrentRefreshSharesFetch(t *testing.T) {
	src := &blockingSource{release: []chan struct{}{make(chan struct{}), make(chan struct{})}}
	r := New(Options{Location: time.UTC}, src, fixedClock("2025-12-01 00:00"))

	errs := make(chan error, 2)
	go func() { errs <- r.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	go func() { errs <- r.Refresh(context.Background()) }()
	// Give the second caller time to join the running refresh.
	time.Sleep(50 * time.Millisecond)
	close(src.release[0])

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, []string{"2025-12-06"}, keys(r))
}

func TestRefreshCallerCancelDoesNotStopFetch(t *testing.T) {
	src := &blockingSource{release: []chan struct{}{make(chan struct{})}}
	r := New(Options{Location: time.UTC}, src, fixedClock("2025-12-01 00:00"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Refresh(ctx) }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(src.release[0])
	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, time.Millisecond)
}

func TestCloseDropsInFlightResult(t *testing.T) {
	src := &blockingSource{release: []chan struct{}{make(chan struct{})}}
	r := New(Options{Location: time.UTC}, src, fixedClock("2025-12-01 00:00"))

	done := make(chan error, 1)
	go func() { done <- r.Load(context.Background()) }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	r.Close()
	close(src.release[0])
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, r.Load(context.Background()), ErrClosed)
}

func TestFetchTimeoutFallsBack(t *testing.T) {
	src := &blockingSource{release: []chan struct{}{make(chan struct{})}}
	r := New(Options{UseFallbackDates: true, MonthsAhead: 1, FetchTimeout: 20 * time.Millisecond, Location: time.UTC},
		src, fixedClock("2025-01-10 00:00"))
	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, OriginFallback, r.Origin())
}

func TestUpcomingWindow(t *testing.T) {
	src := &source.Static{Records: []model.Record{
		{ID: "a", Date: "2025-12-06", IsActive: true},
		{ID: "b", Date: "2026-01-03", IsActive: true},
		{ID: "c", Date: "2026-07-04", IsActive: true},
	}}
	r := New(Options{MonthsAhead: 2, Location: time.UTC}, src, fixedClock("2025-12-01 00:00"))
	require.NoError(t, r.Load(context.Background()))

	var got []string
	for _, s := range r.Upcoming() {
		got = append(got, s.Key())
	}
	assert.Equal(t, []string{"2025-12-06", "2026-01-03"}, got)
}
