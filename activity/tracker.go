package activity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Data is the persisted activity file.
type Data struct {
	LastActivityTime       *time.Time `json:"last_activity_time"`
	BotStartTime           *time.Time `json:"bot_start_time"`
	TotalMessagesProcessed int64      `json:"total_messages_processed"`
	LastUpdated            time.Time  `json:"last_updated"`
}

// Status は activity コマンドと status API で表示する情報です。
type Status struct {
	LastActivityTime       *time.Time `json:"last_activity_time"`
	BotStartTime           *time.Time `json:"bot_start_time"`
	TotalMessagesProcessed int64      `json:"total_messages_processed"`
	HoursSinceLastActivity *float64   `json:"hours_since_last_activity"`
	UptimeHours            *float64   `json:"uptime_hours,omitempty"`
	IsInactive8h           bool       `json:"is_inactive_8h"`
	IsInactive24h          bool       `json:"is_inactive_24h"`
	CurrentTime            time.Time  `json:"current_time"`
}

// Tracker は最後にメッセージを処理した時刻を JSON ファイルに記録します。
// 別プロセスの監視ツールが同じファイルを読みます。
type Tracker struct {
	path   string
	data   Data
	mu     sync.RWMutex
	saveMu sync.Mutex
	now    func() time.Time
}

// NewTracker loads path if it exists.
func NewTracker(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create activity directory: %w", err)
	}
	t := &Tracker{path: path, now: time.Now}
	if err := t.Reload(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Could not load activity data, starting fresh")
	}
	return t, nil
}

func (t *Tracker) Path() string { return t.path }

// Reload re-reads the file. A missing file is not an error.
func (t *Tracker) Reload() error {
	// 書き込み中のファイルを読み戻さない
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	raw, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read activity file: %w", err)
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse activity file: %w", err)
	}

	t.mu.Lock()
	t.data = data
	t.mu.Unlock()
	return nil
}

// RecordStart marks the bot start. It also counts as activity.
func (t *Tracker) RecordStart() error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	now := t.now()
	t.data.BotStartTime = &now
	t.data.LastActivityTime = &now
	t.mu.Unlock()

	log.Info().Time("start", now).Msg("Bot start recorded")
	return t.save()
}

// RecordActivity is called for every archived message.
func (t *Tracker) RecordActivity() error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	now := t.now()
	t.data.LastActivityTime = &now
	t.data.TotalMessagesProcessed++
	total := t.data.TotalMessagesProcessed
	t.mu.Unlock()

	if total%100 == 0 {
		log.Info().Int64("total", total).Msg("Activity recorded")
	}
	return t.save()
}

// Touch rewrites the file without recording activity, so watchers see a fresh mtime.
func (t *Tracker) Touch() error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	return t.save()
}

// SinceLastActivity returns false when no activity has been recorded.
func (t *Tracker) SinceLastActivity() (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.data.LastActivityTime == nil {
		return 0, false
	}
	return t.now().Sub(*t.data.LastActivityTime), true
}

// IsInactive reports true when nothing was recorded or the last activity is older than threshold.
func (t *Tracker) IsInactive(threshold time.Duration) bool {
	since, ok := t.SinceLastActivity()
	if !ok {
		return true
	}
	return since >= threshold
}

func (t *Tracker) Status() Status {
	t.mu.RLock()
	data := t.data
	t.mu.RUnlock()

	now := t.now()
	st := Status{
		LastActivityTime:       data.LastActivityTime,
		BotStartTime:           data.BotStartTime,
		TotalMessagesProcessed: data.TotalMessagesProcessed,
		IsInactive8h:           t.IsInactive(8 * time.Hour),
		IsInactive24h:          t.IsInactive(24 * time.Hour),
		CurrentTime:            now,
	}
	if data.LastActivityTime != nil {
		h := now.Sub(*data.LastActivityTime).Hours()
		st.HoursSinceLastActivity = &h
	}
	if data.BotStartTime != nil {
		h := now.Sub(*data.BotStartTime).Hours()
		st.UptimeHours = &h
	}
	return st
}

// save は一時ファイルに書いてから rename します。呼び出し側が saveMu を保持します。
func (t *Tracker) save() error {
	t.mu.Lock()
	t.data.LastUpdated = t.now()
	raw, err := json.MarshalIndent(t.data, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal activity data: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".activity-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write activity data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace activity file: %w", err)
	}
	return nil
}
