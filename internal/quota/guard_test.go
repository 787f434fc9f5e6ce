package quota

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradintel/tuition-cli/internal/config"
	"github.com/gradintel/tuition-cli/internal/model"
	"github.com/gradintel/tuition-cli/internal/store"
)

func newTestGuard(t *testing.T, cfg config.QuotaConfig, n Notifier) *Guard {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "quota_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return NewGuard(st, cfg, n)
}

type captureNotifier struct {
	mu     sync.Mutex
	levels []string
}

func (c *captureNotifier) NotifyQuota(_ model.QuotaStatus, level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels = append(c.levels, level)
}

func (c *captureNotifier) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.levels...)
}

func TestGuardAdmitsWithinLimit(t *testing.T) {
	g := newTestGuard(t, config.QuotaConfig{DailyLimit: 3}, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := g.CheckAndReserve(ctx)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Used)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := g.CheckAndReserve(ctx)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.Used, "denied call must not consume budget")
	assert.Equal(t, 0, d.Remaining)
}

func TestGuardZeroLimitDeniesEverything(t *testing.T) {
	g := newTestGuard(t, config.QuotaConfig{DailyLimit: 0}, nil)

	d, err := g.CheckAndReserve(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Used)
}

func TestGuardStatusDoesNotConsume(t *testing.T) {
	g := newTestGuard(t, config.QuotaConfig{DailyLimit: 10}, nil)
	ctx := context.Background()

	_, err := g.CheckAndReserve(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s, err := g.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, s.Used)
		assert.Equal(t, 9, s.Remaining)
		assert.False(t, s.IsExceeded)
		assert.InDelta(t, 10.0, s.UsagePercent, 0.01)
	}
}

func TestGuardSignalsThresholdsOncePerDay(t *testing.T) {
	n := &captureNotifier{}
	g := newTestGuard(t, config.QuotaConfig{DailyLimit: 10, WarnPercent: 50, CriticalPercent: 90}, n)
	ctx := context.Background()

	// Cross 50% (call 5), stay there (call 6), then cross 90% (call 9, 10).
	for i := 0; i < 10; i++ {
		_, err := g.CheckAndReserve(ctx)
		require.NoError(t, err)
	}

	// Notifications are fired on goroutines.
	assert.Eventually(t, func() bool {
		return len(n.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)

	levels := n.snapshot()
	assert.Equal(t, []string{"warning", "critical"}, levels)
}

func TestGuardConcurrentReservationsNeverExceedLimit(t *testing.T) {
	g := newTestGuard(t, config.QuotaConfig{DailyLimit: 20}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.CheckAndReserve(ctx)
			if err != nil {
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, allowed)

	s, err := g.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, s.Used)
	assert.True(t, s.IsExceeded)
}

func TestDayKeyIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*3600)
	// 23:30 local on Jan 1 is 07:30 UTC on Jan 2.
	ts := time.Date(2026, 1, 1, 23, 30, 0, 0, loc)
	assert.Equal(t, "2026-01-02", DayKey(ts))
}
