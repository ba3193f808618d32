package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eraiza0816/discord-archive/activity"
	"github.com/eraiza0816/discord-archive/archive"
	"github.com/eraiza0816/discord-archive/config"
	"github.com/eraiza0816/discord-archive/discord"
	"github.com/eraiza0816/discord-archive/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv points every file the commands touch into a temp dir.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("APP_LOG_FILE", filepath.Join(dir, "app.log"))
	t.Setenv("LOG_FILE", filepath.Join(dir, "messages.txt"))
	t.Setenv("ARCHIVE_DB_PATH", filepath.Join(dir, "archive.duckdb"))
	t.Setenv("ACTIVITY_TRACKER_FILE", filepath.Join(dir, "bot_activity.json"))
	t.Setenv("NOTION_TOKEN", "")
	t.Setenv("NOTION_DATABASE_ID", "")
	t.Setenv("HEALTHCHECKS_PING_URL", "")
	t.Setenv("ATTACHMENTS_DIR", "")
	t.Setenv("GOOGLE_DRIVE_CREDENTIALS", "")
	return dir
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--env", filepath.Join(dir, "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestActivityCmd(t *testing.T) {
	dir := testEnv(t)
	data := `{"last_activity_time":"2024-05-01T12:00:00Z","total_messages_processed":42}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot_activity.json"), []byte(data), 0644))

	out, err := execute(t, dir, "activity")
	require.NoError(t, err)

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.EqualValues(t, 42, st["total_messages_processed"])
	assert.Equal(t, true, st["is_inactive_8h"])
}

func TestHeartbeatCmd(t *testing.T) {
	dir := testEnv(t)
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotMethod, gotPath, gotBody = r.Method, r.URL.Path, string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("HEALTHCHECKS_PING_URL", srv.URL+"/ping/abc")

	out, err := execute(t, dir, "heartbeat", "--state", "fail", "deploy", "done")
	require.NoError(t, err)
	assert.Contains(t, out, "ping sent")
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/ping/abc/fail", gotPath)
	assert.Equal(t, "deploy done", gotBody)
}

func TestHeartbeatCmd_NoURL(t *testing.T) {
	dir := testEnv(t)
	_, err := execute(t, dir, "heartbeat")
	assert.ErrorContains(t, err, "HEALTHCHECKS_PING_URL")
}

func TestNotionCheckCmd_NotConfigured(t *testing.T) {
	dir := testEnv(t)
	_, err := execute(t, dir, "notion-check")
	assert.ErrorContains(t, err, "NOTION_TOKEN")
}

func TestNotifyTestCmd_NotConfigured(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("SMTP_SENDER_EMAIL", "")
	_, err := execute(t, dir, "notify-test")
	assert.ErrorIs(t, err, notify.ErrNotConfigured)
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("DISCORD_TOKEN", "")
	_, err := execute(t, dir, "run")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestWatchdogCmd_Once(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("BOT_PROCESS_NAME", "definitely-not-running-0xdead")
	t.Setenv("AUTO_RESTART_BOT", "false")

	out, err := execute(t, dir, "watchdog", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "processes: 0")
	assert.Contains(t, out, "healthy: false")
}

func TestBuildArchiver_FileOnly(t *testing.T) {
	testEnv(t)
	cfg, err := config.Load()
	require.NoError(t, err)

	arch, err := buildArchiver(context.Background(), cfg)
	require.NoError(t, err)
	defer arch.Close()

	msg := &archive.Message{
		ID:          "111111111111111111",
		GuildID:     "222222222222222222",
		GuildName:   "Server",
		ChannelID:   "333333333333333333",
		ChannelName: "general",
		AuthorID:    "444444444444444444",
		AuthorName:  "@alice",
		Content:     "hello",
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	res, err := arch.Archive(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "file", res.Sink)

	_, err = arch.Archive(context.Background(), msg)
	assert.ErrorIs(t, err, archive.ErrAlreadyArchived)

	stats, err := arch.Ledger().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.FileExists(t, cfg.LogFile)
}

func TestRunBot_ConnectionFailureStopsBackground(t *testing.T) {
	testEnv(t)
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("DISCORD_TOKEN", "invalid-token")
	t.Setenv("HEALTHCHECKS_PING_URL", srv.URL+"/ping/abc")
	t.Setenv("HEARTBEAT_INTERVAL", "1")

	cfg, err := config.Load()
	require.NoError(t, err)

	errGateway := errors.New("authentication failed")
	prev := connectDiscord
	t.Cleanup(func() { connectDiscord = prev })
	connectDiscord = func(ctx context.Context, token string, _ *discord.Handler) error {
		assert.Equal(t, "invalid-token", token)
		time.Sleep(50 * time.Millisecond)
		return errGateway
	}

	done := make(chan error, 1)
	go func() { done <- runBot(context.Background(), cfg) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errGateway)
	case <-time.After(5 * time.Second):
		t.Fatal("runBot did not return after the connection failed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "/ping/abc/fail")
}

func TestKeepAlive_TouchesOnlyWhileConnected(t *testing.T) {
	dir := testEnv(t)
	tracker, err := activity.NewTracker(filepath.Join(dir, "bot_activity.json"))
	require.NoError(t, err)

	var connected sync.Mutex
	up := false
	isUp := func() bool {
		connected.Lock()
		defer connected.Unlock()
		return up
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		keepAlive(ctx, tracker, isUp, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.NoFileExists(t, tracker.Path())

	connected.Lock()
	up = true
	connected.Unlock()
	assert.Eventually(t, func() bool {
		_, err := os.Stat(tracker.Path())
		return err == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive did not stop")
	}
}
