package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/eraiza0816/discord-archive/heartbeat"
	"github.com/eraiza0816/discord-archive/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	DefaultWatchInterval = 120 * time.Second
	DefaultStaleAfter    = 10 * time.Minute
	terminateGrace       = 10 * time.Second
	restartDelay         = 5 * time.Second
)

type ProcessInfo struct {
	PID     int32
	Cmdline string
}

// ProcessTable finds and stops processes.
type ProcessTable interface {
	Find(ctx context.Context, pattern string) ([]ProcessInfo, error)
	Terminate(ctx context.Context, pid int32, grace time.Duration) error
}

// Pinger is the heartbeat sender used by the watchdog.
type Pinger interface {
	Ping(ctx context.Context, state heartbeat.State, message string) error
}

// SystemProcesses implements ProcessTable with gopsutil.
type SystemProcesses struct{}

func (SystemProcesses) Find(ctx context.Context, pattern string) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	self := int32(os.Getpid())
	var found []ProcessInfo
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		if strings.Contains(cmdline, pattern) {
			found = append(found, ProcessInfo{PID: p.Pid, Cmdline: cmdline})
		}
	}
	return found, nil
}

// Terminate sends SIGTERM and kills the process if it is still running after grace.
func (SystemProcesses) Terminate(ctx context.Context, pid int32, grace time.Duration) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		return fmt.Errorf("failed to terminate process %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	log.Warn().Int32("pid", pid).Msg("process did not exit, killing")
	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}

// StartShell launches command through sh without waiting for it.
func StartShell(_ context.Context, command string) error {
	cmd := exec.Command("sh", "-c", command)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %q: %w", command, err)
	}
	go cmd.Wait()
	return nil
}

type WatchdogConfig struct {
	ProcessName  string
	StartCommand string
	AutoRestart  bool
	WatchFile    string
	StaleAfter   time.Duration
	Interval     time.Duration
}

// Health は 1 回のチェック結果です。
type Health struct {
	Processes []ProcessInfo
	FileAge   time.Duration
	FileFresh bool
	Healthy   bool
	Restarted bool
}

func (h Health) String() string {
	fresh := "no"
	if h.FileFresh {
		fresh = "yes"
	}
	return fmt.Sprintf("processes: %d, recent activity file: %s", len(h.Processes), fresh)
}

// Watchdog はボットのプロセスと活動ファイルを監視し、異常時に再起動します。
type Watchdog struct {
	cfg    WatchdogConfig
	procs  ProcessTable
	start  func(ctx context.Context, command string) error
	pinger Pinger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)
	log    zerolog.Logger

	mu       sync.Mutex
	restarts int
}

func NewWatchdog(cfg WatchdogConfig, procs ProcessTable, pinger Pinger) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if procs == nil {
		procs = SystemProcesses{}
	}
	return &Watchdog{
		cfg:    cfg,
		procs:  procs,
		start:  StartShell,
		pinger: pinger,
		now:    time.Now,
		sleep:  sleepContext,
		log:    logging.Component("watchdog"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Check inspects the process table and the watch file.
func (w *Watchdog) Check(ctx context.Context) Health {
	var h Health
	procs, err := w.procs.Find(ctx, w.cfg.ProcessName)
	if err != nil {
		w.log.Error().Err(err).Msg("process lookup failed")
	}
	h.Processes = procs

	if w.cfg.WatchFile != "" {
		if info, err := os.Stat(w.cfg.WatchFile); err == nil {
			h.FileAge = w.now().Sub(info.ModTime())
			h.FileFresh = h.FileAge <= w.cfg.StaleAfter
		}
	}
	h.Healthy = len(h.Processes) > 0 && h.FileFresh
	return h
}

// Tick runs one check, restarts the bot when needed and reports to the heartbeat.
func (w *Watchdog) Tick(ctx context.Context) Health {
	h := w.Check(ctx)
	status := h.String()
	if h.Healthy {
		w.log.Info().Str("status", status).Msg("bot healthy")
		w.ping(ctx, heartbeat.StateSuccess, status+", restarts: "+fmt.Sprint(w.Restarts()))
		return h
	}

	w.log.Warn().Str("status", status).Msg("bot unhealthy")
	if w.cfg.AutoRestart {
		if err := w.restart(ctx, h.Processes); err != nil {
			w.log.Error().Err(err).Msg("restart failed")
		} else {
			h.Restarted = true
			status += ", auto-restarted"
		}
	}
	w.ping(ctx, heartbeat.StateFail, status+", restarts: "+fmt.Sprint(w.Restarts()))
	return h
}

func (w *Watchdog) restart(ctx context.Context, procs []ProcessInfo) error {
	for _, p := range procs {
		w.log.Info().Int32("pid", p.PID).Msg("terminating process")
		if err := w.procs.Terminate(ctx, p.PID, terminateGrace); err != nil {
			w.log.Warn().Err(err).Int32("pid", p.PID).Msg("terminate failed")
		}
	}
	w.sleep(ctx, restartDelay)

	if w.cfg.StartCommand == "" {
		return errors.New("BOT_START_COMMAND not set")
	}
	if err := w.start(ctx, w.cfg.StartCommand); err != nil {
		return err
	}
	w.mu.Lock()
	w.restarts++
	n := w.restarts
	w.mu.Unlock()
	w.log.Info().Int("restarts", n).Str("command", w.cfg.StartCommand).Msg("bot restarted")
	return nil
}

func (w *Watchdog) ping(ctx context.Context, state heartbeat.State, msg string) {
	if w.pinger == nil {
		return
	}
	if err := w.pinger.Ping(ctx, state, msg); err != nil {
		w.log.Debug().Err(err).Msg("heartbeat ping failed")
	}
}

func (w *Watchdog) Restarts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restarts
}

// Run ticks every interval until ctx is done. It sends a start ping on launch
// and a fail ping when stopping.
func (w *Watchdog) Run(ctx context.Context) {
	w.log.Info().Str("process", w.cfg.ProcessName).Dur("interval", w.cfg.Interval).Msg("watchdog started")
	w.ping(ctx, heartbeat.StateStart, "monitor started")
	w.Tick(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Tick(ctx)
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.ping(stopCtx, heartbeat.StateFail, fmt.Sprintf("monitor stopped - restarts: %d", w.Restarts()))
			cancel()
			w.log.Info().Msg("watchdog stopped")
			return
		}
	}
}
