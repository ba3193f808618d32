package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	fileSinkName   = "file"
	separatorWidth = 80
)

// FileEntry is the JSON line written by the file sink.
type FileEntry struct {
	LoggedAt time.Time `json:"logged_at"`
	*Message
}

// FileStats は logs コマンドで表示するログファイルの情報です。
type FileStats struct {
	Exists       bool      `json:"exists"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Lines        int       `json:"lines"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// FileSink appends messages to a local file. It is the fallback when Notion
// is unavailable and can also mirror every message.
type FileSink struct {
	path     string
	format   string
	maxBytes int64
	mu       sync.Mutex
	now      func() time.Time
}

// NewFileSink creates the parent directory of path. maxSizeMB <= 0 disables rotation.
func NewFileSink(path, format string, maxSizeMB int) (*FileSink, error) {
	switch format {
	case "", FormatText:
		format = FormatText
	case FormatJSON:
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	return &FileSink{
		path:     path,
		format:   format,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		now:      time.Now,
	}, nil
}

func (f *FileSink) Name() string { return fileSinkName }

func (f *FileSink) Path() string { return f.path }

func (f *FileSink) Save(_ context.Context, msg *Message) (Result, error) {
	var data []byte
	if f.format == FormatJSON {
		line, err := json.Marshal(FileEntry{LoggedAt: f.now(), Message: msg})
		if err != nil {
			return Result{}, fmt.Errorf("failed to marshal message to JSON: %w", err)
		}
		data = append(line, '\n')
	} else {
		data = []byte(f.formatText(msg))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.rotateIfNeeded(); err != nil {
		return Result{}, err
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return Result{}, fmt.Errorf("failed to write message to log file: %w", err)
	}
	return Result{Sink: fileSinkName}, nil
}

func (f *FileSink) formatText(msg *Message) string {
	var b strings.Builder
	content := msg.Content
	if content == "" {
		content = "[No text content]"
	}
	fmt.Fprintf(&b, "[%s] %s > #%s | %s: %s",
		msg.Timestamp.Format(time.RFC3339), msg.GuildName, msg.ChannelName, msg.AuthorName, content)

	if len(msg.Attachments) > 0 {
		parts := make([]string, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			parts = append(parts, fmt.Sprintf("%s (%s)", a.Filename, a.Link()))
		}
		b.WriteString("\n  Attachments: " + strings.Join(parts, ", "))
	}
	if len(msg.Embeds) > 0 {
		parts := make([]string, 0, len(msg.Embeds))
		for i, e := range msg.Embeds {
			title := e.Title
			if title == "" {
				title = "No title"
			}
			desc := truncateRunes(e.Description, 100)
			if desc == "" {
				desc = "No description"
			}
			parts = append(parts, fmt.Sprintf("Embed %d: %s - %s", i+1, title, desc))
		}
		b.WriteString("\n  Embeds: " + strings.Join(parts, ", "))
	}
	if msg.IsReply() {
		b.WriteString("\n  Reply to: " + msg.ReplyToID)
	}
	b.WriteString("\n" + strings.Repeat("-", separatorWidth) + "\n")
	return b.String()
}

// rotateIfNeeded must be called with f.mu held.
func (f *FileSink) rotateIfNeeded() error {
	if f.maxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() <= f.maxBytes {
		return nil
	}
	backup := fmt.Sprintf("%s.%s.bak", strings.TrimSuffix(f.path, filepath.Ext(f.path)), f.now().Format("20060102_150405"))
	if err := os.Rename(f.path, backup); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return nil
}

// Stats reads the log file and reports its size and line count.
func (f *FileSink) Stats() (FileStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := FileStats{Path: f.path}
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return stats, fmt.Errorf("failed to stat log file: %w", err)
	}
	stats.Exists = true
	stats.Size = info.Size()
	stats.LastModified = info.ModTime()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		stats.Lines++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read log file: %w", err)
	}
	return stats, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
