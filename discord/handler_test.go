package discord

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/eraiza0816/discord-archive/activity"
	"github.com/eraiza0816/discord-archive/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

// MockDiscordSession for testing
type MockDiscordSession struct {
	mock.Mock
}

func (m *MockDiscordSession) ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, content, reference)
	msg, _ := args.Get(0).(*discordgo.Message)
	return msg, args.Error(1)
}

func (m *MockDiscordSession) ChannelMessageSendEmbedReply(channelID string, embed *discordgo.MessageEmbed, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, embed, reference)
	msg, _ := args.Get(0).(*discordgo.Message)
	return msg, args.Error(1)
}

func (m *MockDiscordSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, messageID, content)
	msg, _ := args.Get(0).(*discordgo.Message)
	return msg, args.Error(1)
}

func (m *MockDiscordSession) StateChannel(channelID string) (*discordgo.Channel, error) {
	args := m.Called(channelID)
	ch, _ := args.Get(0).(*discordgo.Channel)
	return ch, args.Error(1)
}

func (m *MockDiscordSession) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	args := m.Called(channelID)
	ch, _ := args.Get(0).(*discordgo.Channel)
	return ch, args.Error(1)
}

func (m *MockDiscordSession) StateGuild(guildID string) (*discordgo.Guild, error) {
	args := m.Called(guildID)
	g, _ := args.Get(0).(*discordgo.Guild)
	return g, args.Error(1)
}

func (m *MockDiscordSession) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	args := m.Called(guildID)
	g, _ := args.Get(0).(*discordgo.Guild)
	return g, args.Error(1)
}

func (m *MockDiscordSession) GuildCount() int {
	return m.Called().Int(0)
}

func (m *MockDiscordSession) HeartbeatLatency() time.Duration {
	return m.Called().Get(0).(time.Duration)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, msg *archive.Message) (archive.Result, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(archive.Result), args.Error(1)
}

type fakeTracker struct {
	recorded int
	err      error
}

func (f *fakeTracker) RecordActivity() error {
	f.recorded++
	return f.err
}

func (f *fakeTracker) Status() activity.Status {
	return activity.Status{TotalMessagesProcessed: int64(f.recorded)}
}

type stubLedger struct {
	st  archive.LedgerStats
	err error
}

func (s stubLedger) Stats(context.Context) (archive.LedgerStats, error) { return s.st, s.err }

type stubLogs struct {
	st  archive.FileStats
	err error
}

func (s stubLogs) Stats() (archive.FileStats, error) { return s.st, s.err }

const (
	testGuild    = "222222222222222222"
	testChannel  = "333333333333333333"
	testThread   = "444444444444444444"
	testCategory = "555555555555555555"
	testOwner    = "666666666666666666"
	testBot      = "777777777777777777"
)

// newTestSession は state キャッシュに guild とチャンネルを持つセッションを返します。
// 未知の ID は state と API の両方で not found になります。
func newTestSession() *MockDiscordSession {
	s := new(MockDiscordSession)
	s.On("StateGuild", testGuild).Return(&discordgo.Guild{ID: testGuild, Name: "Archive Server"}, nil).Maybe()
	s.On("StateChannel", testChannel).Return(&discordgo.Channel{ID: testChannel, Name: "general", ParentID: testCategory, Type: discordgo.ChannelTypeGuildText}, nil).Maybe()
	s.On("StateChannel", testCategory).Return(&discordgo.Channel{ID: testCategory, Name: "Proyectos", Type: discordgo.ChannelTypeGuildCategory}, nil).Maybe()
	s.On("StateChannel", testThread).Return(&discordgo.Channel{ID: testThread, Name: "hilo", ParentID: testChannel, Type: discordgo.ChannelTypeGuildPublicThread}, nil).Maybe()
	s.On("StateGuild", mock.Anything).Return(nil, errNotFound).Maybe()
	s.On("Guild", mock.Anything).Return(nil, errNotFound).Maybe()
	s.On("StateChannel", mock.Anything).Return(nil, errNotFound).Maybe()
	s.On("Channel", mock.Anything).Return(nil, errNotFound).Maybe()
	return s
}

func newTestHandler(cfg HandlerConfig) (*Handler, *MockArchiver, *fakeTracker) {
	if cfg.ServerID == "" {
		cfg.ServerID = testGuild
	}
	cfg.OwnerID = testOwner
	cfg.MonitoringEnabled = true
	arch := new(MockArchiver)
	tracker := &fakeTracker{}
	h := NewHandler(cfg, arch, tracker)
	h.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return h, arch, tracker
}

func guildMessage(channelID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "888888888888888888",
		GuildID:   testGuild,
		ChannelID: channelID,
		Content:   content,
		Timestamp: time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC),
		Author:    &discordgo.User{ID: "999999999999999999", Username: "alice", Discriminator: "0", GlobalName: "Alice"},
	}
}

func TestShouldArchive(t *testing.T) {
	s := newTestSession()

	t.Run("all channels", func(t *testing.T) {
		h, _, _ := newTestHandler(HandlerConfig{})
		assert.True(t, h.shouldArchive(s, guildMessage(testChannel, "hi")))
	})

	t.Run("other guild", func(t *testing.T) {
		h, _, _ := newTestHandler(HandlerConfig{})
		m := guildMessage(testChannel, "hi")
		m.GuildID = "123123123123123123"
		assert.False(t, h.shouldArchive(s, m))
	})

	t.Run("direct message", func(t *testing.T) {
		h, _, _ := newTestHandler(HandlerConfig{})
		m := guildMessage(testChannel, "hi")
		m.GuildID = ""
		assert.False(t, h.shouldArchive(s, m))
	})

	t.Run("channel list", func(t *testing.T) {
		h, _, _ := newTestHandler(HandlerConfig{ChannelIDs: []string{testChannel}})
		assert.True(t, h.shouldArchive(s, guildMessage(testChannel, "hi")))
		assert.False(t, h.shouldArchive(s, guildMessage("101010101010101010", "hi")))
	})

	t.Run("thread of listed channel", func(t *testing.T) {
		h, _, _ := newTestHandler(HandlerConfig{ChannelIDs: []string{testChannel}})
		assert.True(t, h.shouldArchive(s, guildMessage(testThread, "hi")))
	})
}

func TestExtract(t *testing.T) {
	s := newTestSession()
	h, _, _ := newTestHandler(HandlerConfig{IncludeAttachments: true, IncludeEmbeds: true})

	m := guildMessage(testChannel, "see https://example.com/a and http://foo.example.org/b")
	m.Member = &discordgo.Member{Nick: "Ali"}
	m.Attachments = []*discordgo.MessageAttachment{{Filename: "a.png", URL: "https://cdn.discordapp.com/a.png", Size: 10, ContentType: "image/png"}}
	m.Embeds = []*discordgo.MessageEmbed{{Title: "T", Description: "D", URL: "https://example.com/a"}}
	m.Type = discordgo.MessageTypeReply
	m.MessageReference = &discordgo.MessageReference{MessageID: "121212121212121212", ChannelID: testChannel, GuildID: testGuild}

	msg := h.extract(s, m)
	assert.Equal(t, "Archive Server", msg.GuildName)
	assert.Equal(t, "general", msg.ChannelName)
	assert.Equal(t, "Proyectos", msg.CategoryName)
	assert.Equal(t, "@alice", msg.AuthorName)
	assert.Equal(t, "Ali", msg.AuthorDisplay)
	assert.Equal(t, []string{"https://example.com/a", "http://foo.example.org/b"}, msg.URLs)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "image/png", msg.Attachments[0].ContentType)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "T", msg.Embeds[0].Title)
	assert.Equal(t, "121212121212121212", msg.ReplyToID)
	assert.Equal(t, "https://discord.com/channels/"+testGuild+"/"+testChannel+"/888888888888888888", msg.JumpURL)
	assert.Equal(t, m.Timestamp, msg.Timestamp)
}

func TestExtract_FallbacksAndOptions(t *testing.T) {
	s := newTestSession()
	h, _, _ := newTestHandler(HandlerConfig{})

	m := guildMessage("101010101010101010", "")
	m.Author = &discordgo.User{ID: "1", Username: "bob", Discriminator: "1234"}
	m.Attachments = []*discordgo.MessageAttachment{{Filename: "a.png"}}
	m.Timestamp = time.Time{}

	msg := h.extract(s, m)
	assert.Equal(t, "Archive Server", msg.GuildName)
	assert.Equal(t, "101010101010101010", msg.ChannelName)
	assert.Equal(t, archive.DefaultCategory, msg.CategoryName)
	assert.Equal(t, "bob#1234", msg.AuthorName)
	assert.Equal(t, "bob", msg.AuthorDisplay)
	assert.Empty(t, msg.Attachments)
	assert.Empty(t, msg.URLs)
	assert.Empty(t, msg.ReplyToID)
	assert.Equal(t, h.now(), msg.Timestamp)
}

func TestExtract_ThreadCategory(t *testing.T) {
	s := newTestSession()
	h, _, _ := newTestHandler(HandlerConfig{})

	msg := h.extract(s, guildMessage(testThread, "in a thread"))
	assert.Equal(t, "hilo", msg.ChannelName)
	assert.Equal(t, "Proyectos", msg.CategoryName)
}

func TestHandleMessageEvent(t *testing.T) {
	t.Run("archives and records activity", func(t *testing.T) {
		s := newTestSession()
		h, arch, tracker := newTestHandler(HandlerConfig{})
		arch.On("Archive", mock.Anything, mock.MatchedBy(func(m *archive.Message) bool {
			return m.ID == "888888888888888888" && m.Content == "hello"
		})).Return(archive.Result{Sink: "notion", PageID: "p1"}, nil).Once()

		h.handleMessageEvent(s, guildMessage(testChannel, "hello"), testBot)

		arch.AssertExpectations(t)
		assert.Equal(t, 1, tracker.recorded)
		assert.EqualValues(t, 1, h.archived.Load())
	})

	t.Run("already archived is not counted", func(t *testing.T) {
		s := newTestSession()
		h, arch, tracker := newTestHandler(HandlerConfig{})
		arch.On("Archive", mock.Anything, mock.Anything).Return(archive.Result{}, archive.ErrAlreadyArchived).Once()

		h.handleMessageEvent(s, guildMessage(testChannel, "hello"), testBot)

		assert.Zero(t, tracker.recorded)
		assert.Zero(t, h.failed.Load())
	})

	t.Run("archive failure", func(t *testing.T) {
		s := newTestSession()
		h, arch, tracker := newTestHandler(HandlerConfig{})
		arch.On("Archive", mock.Anything, mock.Anything).Return(archive.Result{}, errors.New("notion down")).Once()

		h.handleMessageEvent(s, guildMessage(testChannel, "hello"), testBot)

		assert.Zero(t, tracker.recorded)
		assert.EqualValues(t, 1, h.failed.Load())
	})

	t.Run("monitoring stopped", func(t *testing.T) {
		s := newTestSession()
		h, arch, _ := newTestHandler(HandlerConfig{})
		h.SetMonitoring(false)

		h.handleMessageEvent(s, guildMessage(testChannel, "hello"), testBot)

		arch.AssertNotCalled(t, "Archive", mock.Anything, mock.Anything)
	})

	t.Run("ignore self message", func(t *testing.T) {
		s := newTestSession()
		h, arch, _ := newTestHandler(HandlerConfig{})
		m := guildMessage(testChannel, "hello")
		m.Author.ID = testBot

		h.handleMessageEvent(s, m, testBot)

		arch.AssertNotCalled(t, "Archive", mock.Anything, mock.Anything)
	})

	t.Run("command from non owner is archived only", func(t *testing.T) {
		s := newTestSession()
		h, arch, _ := newTestHandler(HandlerConfig{})
		arch.On("Archive", mock.Anything, mock.Anything).Return(archive.Result{Sink: "file"}, nil).Once()

		h.handleMessageEvent(s, guildMessage(testChannel, "!monitor stop"), testBot)

		assert.True(t, h.Monitoring())
		s.AssertNotCalled(t, "ChannelMessageSendReply", mock.Anything, mock.Anything, mock.Anything)
	})
}

func ownerMessage(content string) *discordgo.Message {
	m := guildMessage(testChannel, content)
	m.GuildID = ""
	m.Author = &discordgo.User{ID: testOwner, Username: "owner"}
	return m
}

func replyContaining(sub string) any {
	return mock.MatchedBy(func(content string) bool { return strings.Contains(content, sub) })
}

func TestCommands_Monitor(t *testing.T) {
	s := newTestSession()
	h, _, _ := newTestHandler(HandlerConfig{LogFile: "./logs/messages.txt"})
	s.On("ChannelMessageSendReply", testChannel, mock.Anything, mock.Anything).Return(&discordgo.Message{}, nil)

	h.handleMessageEvent(s, ownerMessage("!monitor stop"), testBot)
	assert.False(t, h.Monitoring())
	s.AssertCalled(t, "ChannelMessageSendReply", testChannel, "✅ Message monitoring stopped", mock.Anything)

	h.handleMessageEvent(s, ownerMessage("!MON start"), testBot)
	assert.True(t, h.Monitoring())

	h.handleMessageEvent(s, ownerMessage("!monitoring status"), testBot)
	s.AssertCalled(t, "ChannelMessageSendReply", testChannel, replyContaining("🏠 **Server:** Archive Server"), mock.Anything)
	s.AssertCalled(t, "ChannelMessageSendReply", testChannel, replyContaining("./logs/messages.txt"), mock.Anything)

	h.handleMessageEvent(s, ownerMessage("!monitor"), testBot)
	s.AssertCalled(t, "ChannelMessageSendReply", testChannel, replyContaining("❌ Usage: `!monitor <start|stop|status>`"), mock.Anything)
}

func TestCommands_Ping(t *testing.T) {
	s := newTestSession()
	h, _, _ := newTestHandler(HandlerConfig{})
	s.On("ChannelMessageSendReply", testChannel, "🏓 Pinging...", mock.Anything).
		Return(&discordgo.Message{ID: "sent", ChannelID: testChannel}, nil).Once()
	s.On("HeartbeatLatency").Return(42 * time.Millisecond)
	s.On("ChannelMessageEdit", testChannel, "sent", "🏓 Pong! Latency: 0ms | WebSocket: 42ms").
		Return(&discordgo.Message{}, nil).Once()

	h.handleMessageEvent(s, ownerMessage("!ping"), testBot)
	s.AssertExpectations(t)
}

func TestCommands_InfoAndHelp(t *testing.T) {
	s := newTestSession()
	h, _, _ := newTestHandler(HandlerConfig{})
	s.On("GuildCount").Return(3)
	s.On("ChannelMessageSendReply", testChannel, mock.Anything, mock.Anything).Return(&discordgo.Message{}, nil)
	s.On("ChannelMessageSendEmbedReply", testChannel, mock.Anything, mock.Anything).Return(&discordgo.Message{}, nil)

	h.handleMessageEvent(s, ownerMessage("!info"), testBot)
	s.AssertCalled(t, "ChannelMessageSendReply", testChannel, replyContaining("🌐 **Servers:** 3"), mock.Anything)

	h.handleMessageEvent(s, ownerMessage("!help"), testBot)
	s.AssertCalled(t, "ChannelMessageSendEmbedReply", testChannel, mock.MatchedBy(func(e *discordgo.MessageEmbed) bool {
		return len(e.Fields) == 1 && strings.Contains(e.Fields[0].Value, "`!stats` - Show archive statistics")
	}), mock.Anything)

	h.handleMessageEvent(s, ownerMessage("!help loginfo"), testBot)
	s.AssertCalled(t, "ChannelMessageSendReply", testChannel, replyContaining("**📖 Command Help: logs**"), mock.Anything)

	h.handleMessageEvent(s, ownerMessage("!help nope"), testBot)
	s.AssertCalled(t, "ChannelMessageSendReply", testChannel, "❌ Command 'nope' not found", mock.Anything)
}

func TestCommands_LogsAndStats(t *testing.T) {
	s := newTestSession()
	h, _, _ := newTestHandler(HandlerConfig{})
	s.On("ChannelMessageSendReply", testChannel, mock.Anything, mock.Anything).Return(&discordgo.Message{}, nil)
	s.On("ChannelMessageSendEmbedReply", testChannel, mock.Anything, mock.Anything).Return(&discordgo.Message{}, nil)

	h.handleMessageEvent(s, ownerMessage("!logs"), testBot)
	s.AssertCalled(t, "ChannelMessageSendReply", testChannel, replyContaining("No log file found"), mock.Anything)

	h.WithStats(
		stubLedger{st: archive.LedgerStats{Total: 7, BySink: map[string]int{"notion": 6, "file": 1}}},
		stubLogs{st: archive.FileStats{Exists: true, Path: "./logs/messages.txt", Size: 2048, Lines: 12}},
	)
	h.handleMessageEvent(s, ownerMessage("!log"), testBot)
	s.AssertCalled(t, "ChannelMessageSendReply", testChannel, replyContaining("📊 **Size:** 2.00 KB"), mock.Anything)

	h.handleMessageEvent(s, ownerMessage("!stats"), testBot)
	s.AssertCalled(t, "ChannelMessageSendEmbedReply", testChannel, mock.MatchedBy(func(e *discordgo.MessageEmbed) bool {
		return e.Fields[0].Value == "7" && e.Fields[3].Name == "Sink: file" && e.Fields[4].Name == "Sink: notion"
	}), mock.Anything)
}

func TestCommands_UnknownIsIgnored(t *testing.T) {
	s := newTestSession()
	h, _, _ := newTestHandler(HandlerConfig{})

	h.handleMessageEvent(s, ownerMessage("!purge 10"), testBot)
	h.handleMessageEvent(s, ownerMessage("!"), testBot)

	s.AssertNotCalled(t, "ChannelMessageSendReply", mock.Anything, mock.Anything, mock.Anything)
}

func TestOnReady(t *testing.T) {
	s := newTestSession()
	h, _, _ := newTestHandler(HandlerConfig{ChannelIDs: []string{testChannel}})
	assert.False(t, h.Connected())
	assert.NotPanics(t, func() {
		h.onReady(s, &discordgo.Ready{User: &discordgo.User{ID: testBot, Username: "archiver"}})
	})
	assert.True(t, h.Connected())

	h.cfg.ServerID = "123123123123123123"
	assert.NotPanics(t, func() { h.onReady(s, &discordgo.Ready{}) })

	h.setConnected(false)
	assert.False(t, h.Connected())
}

func TestAuthorHandle(t *testing.T) {
	assert.Equal(t, "@alice", authorHandle(&discordgo.User{Username: "alice", Discriminator: "0"}))
	assert.Equal(t, "@alice", authorHandle(&discordgo.User{Username: "alice"}))
	assert.Equal(t, "bob#0042", authorHandle(&discordgo.User{Username: "bob", Discriminator: "0042"}))
}
