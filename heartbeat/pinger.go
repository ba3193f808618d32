package heartbeat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eraiza0816/discord-archive/logging"
	"github.com/rs/zerolog"
)

type State string

const (
	StateSuccess State = "success"
	StateStart   State = "start"
	StateFail    State = "fail"

	DefaultInterval = 60 * time.Second
	requestTimeout  = 10 * time.Second
	urlDisplayLimit = 50
)

// Status は heartbeat の現在の状態です。
type Status struct {
	Enabled     bool       `json:"enabled"`
	Running     bool       `json:"is_running"`
	PingCount   int        `json:"ping_count"`
	FailedPings int        `json:"failed_pings"`
	LastPing    *time.Time `json:"last_ping_time"`
	PingURL     string     `json:"ping_url"`
	Interval    string     `json:"interval"`
}

// Pinger は外部の死活監視サービス (Healthchecks.io 互換) に定期的に ping を送ります。
type Pinger struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      zerolog.Logger

	mu          sync.Mutex
	running     bool
	pingCount   int
	failedPings int
	lastPing    time.Time
}

// New returns a Pinger. An empty url disables every ping.
func New(url string, interval time.Duration, client *http.Client) *Pinger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Pinger{
		url:      strings.TrimRight(url, "/"),
		interval: interval,
		client:   client,
		log:      logging.Component("heartbeat"),
	}
}

func (p *Pinger) Enabled() bool { return p != nil && p.url != "" }

// Ping sends one ping. Start and fail append /start and /fail to the URL.
// A non-empty message is sent as the request body.
func (p *Pinger) Ping(ctx context.Context, state State, message string) error {
	if !p.Enabled() {
		return nil
	}
	target := p.url
	if state != StateSuccess && state != "" {
		target += "/" + string(state)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	method := http.MethodGet
	var body io.Reader
	if message != "" {
		method = http.MethodPost
		body = strings.NewReader(message)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		p.recordFailure()
		return fmt.Errorf("failed to build ping request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.recordFailure()
		p.log.Error().Err(err).Str("state", string(state)).Msg("ping failed")
		return fmt.Errorf("failed to send ping: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		p.recordFailure()
		p.log.Warn().Int("status", resp.StatusCode).Str("state", string(state)).Msg("ping rejected")
		return fmt.Errorf("ping returned status %d", resp.StatusCode)
	}

	p.mu.Lock()
	p.pingCount++
	p.lastPing = time.Now()
	count := p.pingCount
	p.mu.Unlock()
	p.log.Debug().Str("state", string(state)).Int("total", count).Msg("ping sent")
	return nil
}

func (p *Pinger) recordFailure() {
	p.mu.Lock()
	p.failedPings++
	p.mu.Unlock()
}

// Run sends a start ping, then a success ping every interval until ctx is done.
// On exit a fail ping reports the totals.
func (p *Pinger) Run(ctx context.Context, startMessage string) {
	if !p.Enabled() {
		p.log.Info().Msg("HEALTHCHECKS_PING_URL not set, heartbeat disabled")
		return
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.log.Warn().Msg("heartbeat already running")
		return
	}
	p.running = true
	p.mu.Unlock()

	p.log.Info().Dur("interval", p.interval).Msg("heartbeat started")
	p.Ping(ctx, StateStart, startMessage)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Ping(ctx, StateSuccess, "")
		case <-ctx.Done():
			p.mu.Lock()
			p.running = false
			final := fmt.Sprintf("stopped - total pings: %d, failures: %d", p.pingCount, p.failedPings)
			p.mu.Unlock()

			stopCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			p.Ping(stopCtx, StateFail, final)
			cancel()
			p.log.Info().Msg("heartbeat stopped")
			return
		}
	}
}

func (p *Pinger) Status() Status {
	if p == nil {
		return Status{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Enabled:     p.Enabled(),
		Running:     p.running,
		PingCount:   p.pingCount,
		FailedPings: p.failedPings,
		PingURL:     truncateURL(p.url),
		Interval:    p.interval.String(),
	}
	if !p.lastPing.IsZero() {
		t := p.lastPing
		st.LastPing = &t
	}
	return st
}

func truncateURL(u string) string {
	if len(u) > urlDisplayLimit {
		return u[:urlDisplayLimit] + "..."
	}
	return u
}
