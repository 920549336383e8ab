package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/domain"
	"folio/internal/util"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(util.NewTradingCalendar(domain.MarketUS), nil)
	t.Cleanup(s.Stop)
	return s
}

func noop(context.Context) error { return nil }

func TestAddValidation(t *testing.T) {
	s := newScheduler(t)

	require.NoError(t, s.Add("gather", "30 17 * * 1-5", true, noop))
	assert.Error(t, s.Add("gather", "0 18 * * *", false, noop), "duplicate name")
	assert.Error(t, s.Add("bad", "not a spec", false, noop))
	require.NoError(t, s.Add("disabled", "", false, noop))

	st := s.Statuses()
	require.Len(t, st, 1)
	assert.Equal(t, "gather", st[0].Name)
	assert.Equal(t, "30 17 * * 1-5", st[0].Spec)
}

func TestTriggerRecordsStatus(t *testing.T) {
	s := newScheduler(t)
	calls := 0
	require.NoError(t, s.Add("evaluate", "0 18 * * 1-5", true, func(ctx context.Context) error {
		calls++
		return ctx.Err()
	}))
	boom := errors.New("boom")
	require.NoError(t, s.Add("broken", "0 19 * * 1-5", false, func(context.Context) error { return boom }))

	require.NoError(t, s.Trigger("evaluate"))
	assert.ErrorIs(t, s.Trigger("broken"), boom)
	assert.Error(t, s.Trigger("missing"))

	st := s.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "broken", st[0].Name)
	assert.Equal(t, 1, st[0].Runs)
	assert.Equal(t, "boom", st[0].LastErr)
	assert.Equal(t, "evaluate", st[1].Name)
	assert.Equal(t, 1, st[1].Runs)
	assert.Empty(t, st[1].LastErr)
	assert.Equal(t, 1, calls)
}

func TestTriggerDoesNotOverlap(t *testing.T) {
	s := newScheduler(t)

	var active, peak atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Add("gather", "30 17 * * 1-5", false, func(context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		return nil
	}))

	var wg sync.WaitGroup
	var first error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = s.Trigger("gather")
	}()
	<-started

	assert.ErrorIs(t, s.Trigger("gather"), ErrJobRunning)
	close(release)
	wg.Wait()

	require.NoError(t, first)
	assert.Equal(t, int32(1), peak.Load())
	st := s.Statuses()[0]
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skipped)
}

func TestRunSkipsWeekends(t *testing.T) {
	s := newScheduler(t)
	calls := 0
	require.NoError(t, s.Add("gather", "30 17 * * *", true, func(context.Context) error { calls++; return nil }))

	// Saturday afternoon in New York.
	s.now = func() time.Time { return time.Date(2024, 3, 16, 21, 30, 0, 0, time.UTC) }

	e := s.jobs["gather"]
	require.NoError(t, s.run(e, e.tradingDaysOnly))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, s.Statuses()[0].Skipped)

	require.NoError(t, s.Trigger("gather"), "manual runs ignore the trading-day gate")
	assert.Equal(t, 1, calls)
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(util.NewTradingCalendar(domain.MarketUS), nil)
	require.NoError(t, s.Add("evaluate", "@every 1h", false, func(ctx context.Context) error { return ctx.Err() }))
	s.Start()
	s.Stop()

	assert.ErrorIs(t, s.Trigger("evaluate"), context.Canceled)
}
