package quota

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gradintel/tuition-cli/internal/config"
	"github.com/gradintel/tuition-cli/internal/model"
	"github.com/gradintel/tuition-cli/internal/store"
)

// Notifier receives quota threshold signals. Satisfied by monitoring.Alerter.
type Notifier interface {
	NotifyQuota(status model.QuotaStatus, level string)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed      bool    `json:"allowed"`
	Used         int     `json:"used"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	UsagePercent float64 `json:"usage_percent"`
}

// Guard admits paid extraction calls against a per-day budget. The counter
// lives in the store and is incremented atomically, so concurrent callers
// can never jointly exceed the limit. Days roll over at midnight UTC.
type Guard struct {
	store    store.Store
	cfg      config.QuotaConfig
	notifier Notifier

	// Threshold signals fire once per level per day within this process.
	mu          sync.Mutex
	signaledDay string
	signaled    map[string]bool

	nowFunc func() time.Time
}

// NewGuard creates a quota guard. notifier may be nil.
func NewGuard(st store.Store, cfg config.QuotaConfig, notifier Notifier) *Guard {
	return &Guard{
		store:    st,
		cfg:      cfg,
		notifier: notifier,
		signaled: make(map[string]bool),
		nowFunc:  time.Now,
	}
}

// DayKey returns the UTC quota bucket for t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CheckAndReserve consumes one unit of today's budget if any remains. The
// reservation happens before the paid call it covers, so a denial costs
// nothing. Reservations are never returned: a failed extraction still spent
// a billed API call.
func (g *Guard) CheckAndReserve(ctx context.Context) (*Decision, error) {
	day := DayKey(g.nowFunc())

	if g.cfg.DailyLimit <= 0 {
		return &Decision{Allowed: false, Limit: g.cfg.DailyLimit}, nil
	}

	used, allowed, err := g.store.IncrementQuota(ctx, day, g.cfg.DailyLimit)
	if err != nil {
		return nil, eris.Wrap(err, "quota: reserve")
	}

	d := g.decision(used, allowed)
	if !allowed {
		zap.L().Warn("quota: daily limit reached, call denied",
			zap.String("day", day),
			zap.Int("used", d.Used),
			zap.Int("limit", d.Limit))
	}
	g.signalThresholds(day, d)
	return d, nil
}

// Status reports today's usage without consuming budget.
func (g *Guard) Status(ctx context.Context) (*model.QuotaStatus, error) {
	day := DayKey(g.nowFunc())
	used, err := g.store.GetQuota(ctx, day)
	if err != nil {
		return nil, eris.Wrap(err, "quota: read usage")
	}
	return g.status(day, used), nil
}

func (g *Guard) decision(used int, allowed bool) *Decision {
	d := &Decision{
		Allowed:   allowed,
		Used:      used,
		Limit:     g.cfg.DailyLimit,
		Remaining: g.cfg.DailyLimit - used,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if d.Limit > 0 {
		d.UsagePercent = float64(used) / float64(d.Limit) * 100
	}
	return d
}

func (g *Guard) status(day string, used int) *model.QuotaStatus {
	s := &model.QuotaStatus{
		Date:       day,
		Used:       used,
		Limit:      g.cfg.DailyLimit,
		Remaining:  g.cfg.DailyLimit - used,
		IsExceeded: used >= g.cfg.DailyLimit,
	}
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	if s.Limit > 0 {
		s.UsagePercent = float64(used) / float64(s.Limit) * 100
	}
	return s
}

// signalThresholds fires warn/critical notifications the first time usage
// crosses each configured percentage for the day. Notification is
// fire-and-forget: admission never waits on a webhook.
func (g *Guard) signalThresholds(day string, d *Decision) {
	if g.notifier == nil {
		return
	}

	level := ""
	switch {
	case g.cfg.CriticalPercent > 0 && d.UsagePercent >= g.cfg.CriticalPercent:
		level = "critical"
	case g.cfg.WarnPercent > 0 && d.UsagePercent >= g.cfg.WarnPercent:
		level = "warning"
	}
	if level == "" {
		return
	}

	g.mu.Lock()
	if g.signaledDay != day {
		g.signaledDay = day
		g.signaled = make(map[string]bool)
	}
	already := g.signaled[level]
	g.signaled[level] = true
	g.mu.Unlock()
	if already {
		return
	}

	status := g.status(day, d.Used)
	go g.notifier.NotifyQuota(*status, level)
}
