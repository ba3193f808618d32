package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eraiza0816/discord-archive/logging"
	"github.com/eraiza0816/discord-archive/notify"
	"github.com/rs/zerolog"
)

const (
	DefaultInactivityThreshold = 8 * time.Hour
	DefaultInactivityInterval  = 30 * time.Minute
)

// ActivitySource is the activity tracker as seen by the monitor.
type ActivitySource interface {
	Reload() error
	SinceLastActivity() (time.Duration, bool)
}

// Alerter sends inactivity and recovery notifications.
type Alerter interface {
	SendInactivityAlert(ctx context.Context, since time.Duration, last *time.Time) error
	SendRecovery(ctx context.Context) error
}

// CheckResult は 1 回のチェック結果です。
type CheckResult struct {
	HasData   bool
	Since     time.Duration
	Inactive  bool
	AlertSent bool
	Recovered bool
}

// InactivityMonitor は最終アクティビティからの経過時間を監視し、閾値を超えたら 1 度だけアラートを送ります。
type InactivityMonitor struct {
	source    ActivitySource
	alerter   Alerter
	threshold time.Duration
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu        sync.Mutex
	alertSent bool
	checks    int
}

func NewInactivityMonitor(source ActivitySource, alerter Alerter, threshold, interval time.Duration) *InactivityMonitor {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	if interval <= 0 {
		interval = DefaultInactivityInterval
	}
	return &InactivityMonitor{
		source:    source,
		alerter:   alerter,
		threshold: threshold,
		interval:  interval,
		now:       time.Now,
		log:       logging.Component("inactivity"),
	}
}

// Check reloads the activity file and sends an alert or a recovery notice when the state changes.
func (m *InactivityMonitor) Check(ctx context.Context) CheckResult {
	if err := m.source.Reload(); err != nil {
		m.log.Warn().Err(err).Msg("could not reload activity data")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++

	since, ok := m.source.SinceLastActivity()
	if !ok {
		m.log.Warn().Msg("no activity data available yet")
		return CheckResult{}
	}

	res := CheckResult{HasData: true, Since: since, Inactive: since >= m.threshold}
	switch {
	case res.Inactive && !m.alertSent:
		last := m.now().Add(-since)
		m.log.Warn().Dur("since", since).Dur("threshold", m.threshold).Msg("bot inactive, sending alert")
		err := m.alerter.SendInactivityAlert(ctx, since, &last)
		switch {
		case errors.Is(err, notify.ErrNotConfigured):
			// メール未設定ならログのみで、この期間は再送しない
			m.log.Warn().Dur("since", since).Msg("email not configured, inactivity alert logged only")
		case err != nil:
			m.log.Error().Err(err).Msg("failed to send inactivity alert")
			return res
		default:
			res.AlertSent = true
		}
		m.alertSent = true
	case res.Inactive:
		m.log.Debug().Dur("since", since).Msg("still inactive, alert already sent")
	case m.alertSent:
		m.log.Info().Dur("since", since).Msg("activity resumed, sending recovery notice")
		if err := m.alerter.SendRecovery(ctx); err != nil && !errors.Is(err, notify.ErrNotConfigured) {
			m.log.Error().Err(err).Msg("failed to send recovery notice")
		}
		m.alertSent = false
		res.Recovered = true
	default:
		m.log.Debug().Dur("since", since).Msg("bot active")
	}
	return res
}

// Run checks immediately and then every interval until ctx is done.
func (m *InactivityMonitor) Run(ctx context.Context) {
	m.log.Info().Dur("threshold", m.threshold).Dur("interval", m.interval).Msg("inactivity monitor started")
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			m.log.Info().Msg("inactivity monitor stopped")
			return
		}
	}
}

// AlertActive reports whether an alert was sent for the current inactivity period.
func (m *InactivityMonitor) AlertActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alertSent
}
