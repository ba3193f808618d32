package discord

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/eraiza0816/discord-archive/activity"
	"github.com/eraiza0816/discord-archive/archive"
	"github.com/eraiza0816/discord-archive/logging"
	"github.com/rs/zerolog"
	"mvdan.cc/xurls/v2"
)

const archiveTimeout = 60 * time.Second

// Archiver persists an extracted message.
type Archiver interface {
	Archive(ctx context.Context, msg *archive.Message) (archive.Result, error)
}

// ActivityRecorder is the part of the activity tracker the handler needs.
type ActivityRecorder interface {
	RecordActivity() error
	Status() activity.Status
}

// LedgerStats and LogStats feed the stats and logs commands. Both are optional.
type LedgerStats interface {
	Stats(ctx context.Context) (archive.LedgerStats, error)
}

type LogStats interface {
	Stats() (archive.FileStats, error)
}

// HandlerConfig は監視対象とコマンドの設定です。
type HandlerConfig struct {
	ServerID           string
	ChannelIDs         []string
	IncludeAttachments bool
	IncludeEmbeds      bool
	OwnerID            string
	CommandPrefix      string
	MonitoringEnabled  bool
	LogFile            string
}

type Handler struct {
	cfg      HandlerConfig
	archiver Archiver
	activity ActivityRecorder
	ledger   LedgerStats
	logs     LogStats

	ctx        context.Context
	monitoring atomic.Bool
	connected  atomic.Bool
	archived   atomic.Int64
	failed     atomic.Int64
	startedAt  time.Time
	now        func() time.Time
	urls       *regexp.Regexp
	commands   []*command
	log        zerolog.Logger
}

func NewHandler(cfg HandlerConfig, archiver Archiver, tracker ActivityRecorder) *Handler {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	h := &Handler{
		cfg:       cfg,
		archiver:  archiver,
		activity:  tracker,
		ctx:       context.Background(),
		startedAt: time.Now(),
		now:       time.Now,
		urls:      xurls.Strict(),
		log:       logging.Component("listener"),
	}
	h.monitoring.Store(cfg.MonitoringEnabled)
	h.commands = h.registerCommands()
	return h
}

// WithStats sets the sources for the stats and logs commands.
func (h *Handler) WithStats(ledger LedgerStats, logs LogStats) *Handler {
	h.ledger = ledger
	h.logs = logs
	return h
}

// Monitoring reports whether incoming messages are archived.
func (h *Handler) Monitoring() bool { return h.monitoring.Load() }

func (h *Handler) SetMonitoring(on bool) {
	h.monitoring.Store(on)
	h.log.Info().Bool("enabled", on).Msg("monitoring toggled")
}

// Connected reports whether the gateway session is up.
func (h *Handler) Connected() bool { return h.connected.Load() }

func (h *Handler) setConnected(on bool) { h.connected.Store(on) }

func (h *Handler) onReady(s DiscordSession, r *discordgo.Ready) {
	h.setConnected(true)
	ev := h.log.Info()
	if r.User != nil {
		ev = ev.Str("user", r.User.Username).Str("user_id", r.User.ID)
	}
	ev.Int("guilds", len(r.Guilds)).Str("prefix", h.cfg.CommandPrefix).Msg("bot is ready")

	if !h.Monitoring() {
		h.log.Info().Msg("message monitoring disabled")
		return
	}
	if h.cfg.ServerID == "" {
		h.log.Warn().Msg("MONITORING_SERVER_ID is not set, nothing will be archived")
		return
	}
	if g := h.lookupGuild(s, h.cfg.ServerID); g != nil && g.Name != "" {
		h.log.Info().Str("server", g.Name).Str("server_id", g.ID).Msg("target server found")
	} else {
		h.log.Error().Str("server_id", h.cfg.ServerID).Msg("target server not found, check the server ID and that the bot has joined it")
	}
	if len(h.cfg.ChannelIDs) == 0 {
		h.log.Info().Msg("monitoring all channels")
	} else {
		h.log.Info().Strs("channels", h.cfg.ChannelIDs).Msg("monitoring specific channels")
	}
}

// handleMessageEvent is the testable core logic for handling message events.
func (h *Handler) handleMessageEvent(s DiscordSession, m *discordgo.Message, selfID string) {
	if m == nil || m.Author == nil || m.Author.ID == selfID {
		return
	}

	if h.Monitoring() && h.shouldArchive(s, m) {
		h.archive(s, m)
	}

	if h.cfg.OwnerID != "" && m.Author.ID == h.cfg.OwnerID && strings.HasPrefix(m.Content, h.cfg.CommandPrefix) {
		h.dispatch(s, m)
	}
}

func (h *Handler) archive(s DiscordSession, m *discordgo.Message) {
	msg := h.extract(s, m)

	ctx, cancel := context.WithTimeout(h.ctx, archiveTimeout)
	defer cancel()
	res, err := h.archiver.Archive(ctx, msg)
	switch {
	case errors.Is(err, archive.ErrAlreadyArchived):
		h.log.Debug().Str("message_id", msg.ID).Msg("message already archived")
		return
	case err != nil:
		h.failed.Add(1)
		h.log.Error().Err(err).Str("message_id", msg.ID).Str("channel", msg.ChannelName).Msg("failed to archive message")
		return
	}

	h.archived.Add(1)
	h.log.Info().
		Str("message_id", msg.ID).
		Str("channel", msg.ChannelName).
		Str("author", msg.AuthorName).
		Str("sink", res.Sink).
		Msg("message archived")
	if h.activity != nil {
		if err := h.activity.RecordActivity(); err != nil {
			h.log.Warn().Err(err).Msg("failed to record activity")
		}
	}
}

// shouldArchive reports whether the message belongs to the monitored server and channels.
func (h *Handler) shouldArchive(s DiscordSession, m *discordgo.Message) bool {
	if m.GuildID == "" || h.cfg.ServerID == "" || m.GuildID != h.cfg.ServerID {
		return false
	}
	if len(h.cfg.ChannelIDs) == 0 {
		return true
	}
	if slices.Contains(h.cfg.ChannelIDs, m.ChannelID) {
		return true
	}
	// スレッドの場合は親チャンネルで判定する
	if ch := h.lookupChannel(s, m.ChannelID); ch != nil && ch.IsThread() {
		return slices.Contains(h.cfg.ChannelIDs, ch.ParentID)
	}
	return false
}

// extract builds the archive record for m.
func (h *Handler) extract(s DiscordSession, m *discordgo.Message) *archive.Message {
	msg := &archive.Message{
		ID:            m.ID,
		GuildID:       m.GuildID,
		ChannelID:     m.ChannelID,
		ChannelName:   m.ChannelID,
		CategoryName:  archive.DefaultCategory,
		AuthorID:      m.Author.ID,
		AuthorName:    authorHandle(m.Author),
		AuthorDisplay: displayName(m),
		Content:       m.Content,
		Timestamp:     m.Timestamp,
		URLs:          h.urls.FindAllString(m.Content, -1),
		JumpURL:       archive.JumpURL(m.GuildID, m.ChannelID, m.ID),
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}

	if g := h.lookupGuild(s, m.GuildID); g != nil && g.Name != "" {
		msg.GuildName = g.Name
	} else {
		msg.GuildName = m.GuildID
	}
	if ch := h.lookupChannel(s, m.ChannelID); ch != nil {
		if ch.Name != "" {
			msg.ChannelName = ch.Name
		}
		msg.CategoryName = h.categoryName(s, ch)
	}

	if h.cfg.IncludeAttachments {
		msg.Attachments = convertAttachments(m.Attachments)
	}
	if h.cfg.IncludeEmbeds {
		msg.Embeds = convertEmbeds(m.Embeds)
	}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" &&
		(m.Type == discordgo.MessageTypeReply || m.ReferencedMessage != nil) {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	return msg
}

// categoryName resolves the category of a channel. Threads use the category of their parent channel.
func (h *Handler) categoryName(s DiscordSession, ch *discordgo.Channel) string {
	parentID := ch.ParentID
	if ch.IsThread() {
		parent := h.lookupChannel(s, ch.ParentID)
		if parent == nil {
			return archive.DefaultCategory
		}
		parentID = parent.ParentID
	}
	if parentID == "" {
		return archive.DefaultCategory
	}
	if cat := h.lookupChannel(s, parentID); cat != nil && cat.Type == discordgo.ChannelTypeGuildCategory && cat.Name != "" {
		return cat.Name
	}
	return archive.DefaultCategory
}

// lookupChannel attempts to find the channel in the state cache, falling back to the API.
func (h *Handler) lookupChannel(s DiscordSession, channelID string) *discordgo.Channel {
	if channelID == "" {
		return nil
	}
	ch, err := s.StateChannel(channelID)
	if err == nil && ch != nil {
		return ch
	}
	ch, err = s.Channel(channelID)
	if err != nil {
		h.log.Debug().Err(err).Str("channel_id", channelID).Msg("could not resolve channel")
		return nil
	}
	return ch
}

func (h *Handler) lookupGuild(s DiscordSession, guildID string) *discordgo.Guild {
	if guildID == "" {
		return nil
	}
	g, err := s.StateGuild(guildID)
	if err == nil && g != nil {
		return g
	}
	g, err = s.Guild(guildID)
	if err != nil {
		h.log.Debug().Err(err).Str("guild_id", guildID).Msg("could not resolve guild")
		return nil
	}
	return g
}

// authorHandle は "@name" 形式、旧形式のユーザーは "name#1234" を返します。
func authorHandle(u *discordgo.User) string {
	if u.Discriminator != "" && u.Discriminator != "0" {
		return u.Username + "#" + u.Discriminator
	}
	return "@" + u.Username
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
