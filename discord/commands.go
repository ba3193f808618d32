package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

type command struct {
	name        string
	description string
	usage       string
	aliases     []string
	run         func(s DiscordSession, m *discordgo.Message, args []string)
}

func (c *command) matches(name string) bool {
	if c.name == name {
		return true
	}
	for _, a := range c.aliases {
		if a == name {
			return true
		}
	}
	return false
}

func (h *Handler) registerCommands() []*command {
	return []*command{
		{name: "ping", description: "Check bot latency and response time", usage: "ping", aliases: []string{"p", "latency"}, run: h.pingCommand},
		{name: "info", description: "Show bot information", usage: "info", aliases: []string{"information", "status"}, run: h.infoCommand},
		{name: "help", description: "Show available commands and their usage", usage: "help [command]", aliases: []string{"h", "commands", "cmd"}, run: h.helpCommand},
		{name: "monitor", description: "Control message monitoring (start/stop/status)", usage: "monitor <start|stop|status>", aliases: []string{"mon", "monitoring"}, run: h.monitorCommand},
		{name: "logs", description: "Show log file statistics and information", usage: "logs", aliases: []string{"log", "loginfo"}, run: h.logsCommand},
		{name: "stats", description: "Show archive statistics", usage: "stats", run: h.statsCommand},
	}
}

func (h *Handler) findCommand(name string) *command {
	for _, c := range h.commands {
		if c.matches(name) {
			return c
		}
	}
	return nil
}

func (h *Handler) dispatch(s DiscordSession, m *discordgo.Message) {
	content := strings.TrimSpace(strings.TrimPrefix(m.Content, h.cfg.CommandPrefix))
	if content == "" {
		return
	}
	args := strings.Fields(content)
	name := strings.ToLower(args[0])

	cmd := h.findCommand(name)
	if cmd == nil {
		h.log.Info().Str("command", name).Msg("unknown command")
		return
	}
	h.log.Info().Str("command", cmd.name).Strs("args", args[1:]).Msg("executing command")
	cmd.run(s, m, args[1:])
}

func (h *Handler) pingCommand(s DiscordSession, m *discordgo.Message, _ []string) {
	start := h.now()
	sent, err := s.ChannelMessageSendReply(m.ChannelID, "🏓 Pinging...", m.Reference())
	if err != nil {
		h.log.Error().Err(err).Msg("ping reply failed")
		return
	}
	latency := h.now().Sub(start).Milliseconds()
	content := fmt.Sprintf("🏓 Pong! Latency: %dms | WebSocket: %dms", latency, s.HeartbeatLatency().Milliseconds())
	if _, err := s.ChannelMessageEdit(sent.ChannelID, sent.ID, content); err != nil {
		h.log.Error().Err(err).Msg("ping edit failed")
	}
}

func (h *Handler) infoCommand(s DiscordSession, m *discordgo.Message, _ []string) {
	var processed int64
	if h.activity != nil {
		processed = h.activity.Status().TotalMessagesProcessed
	}
	info := fmt.Sprintf(`**🤖 Bot Information**
⏰ **Uptime:** %s
🌐 **Servers:** %d
🔧 **Prefix:** `+"`%s`"+`
📝 **Messages processed:** %d
%s **Monitoring:** %s`,
		formatUptime(h.now().Sub(h.startedAt)),
		s.GuildCount(),
		h.cfg.CommandPrefix,
		processed,
		statusIcon(h.Monitoring()), onOff(h.Monitoring()))
	h.reply(s, m, info)
}

func (h *Handler) helpCommand(s DiscordSession, m *discordgo.Message, args []string) {
	p := h.cfg.CommandPrefix
	if len(args) > 0 {
		cmd := h.findCommand(strings.ToLower(args[0]))
		if cmd == nil {
			h.replyError(s, m, fmt.Sprintf("Command '%s' not found", args[0]))
			return
		}
		text := fmt.Sprintf("**📖 Command Help: %s**\n📝 **Description:** %s\n💡 **Usage:** `%s%s`", cmd.name, cmd.description, p, cmd.usage)
		if len(cmd.aliases) > 0 {
			text += "\n🔄 **Aliases:** " + strings.Join(cmd.aliases, ", ")
		}
		h.reply(s, m, text)
		return
	}

	lines := make([]string, 0, len(h.commands))
	for _, c := range h.commands {
		lines = append(lines, fmt.Sprintf("`%s%s` - %s", p, c.name, c.description))
	}
	embed := &discordgo.MessageEmbed{
		Title:  "📚 Available Commands",
		Color:  embedColor,
		Fields: splitToEmbedFields(strings.Join(lines, "\n")),
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Use %shelp <command> for detailed help on a specific command", p)},
	}
	if _, err := s.ChannelMessageSendEmbedReply(m.ChannelID, embed, m.Reference()); err != nil {
		h.log.Error().Err(err).Msg("help reply failed")
	}
}

func (h *Handler) monitorCommand(s DiscordSession, m *discordgo.Message, args []string) {
	usage := fmt.Sprintf("Usage: `%smonitor <start|stop|status>`", h.cfg.CommandPrefix)
	if len(args) == 0 {
		h.replyError(s, m, usage)
		return
	}
	switch strings.ToLower(args[0]) {
	case "start":
		h.SetMonitoring(true)
		h.replySuccess(s, m, "Message monitoring started")
	case "stop":
		h.SetMonitoring(false)
		h.replySuccess(s, m, "Message monitoring stopped")
	case "status":
		h.reply(s, m, h.monitorStatus(s))
	default:
		h.replyError(s, m, "Unknown subcommand. "+usage)
	}
}

func (h *Handler) monitorStatus(s DiscordSession) string {
	server := "Server not found"
	if g := h.lookupGuild(s, h.cfg.ServerID); g != nil && g.Name != "" {
		server = g.Name
	}
	channels := "All channels"
	if n := len(h.cfg.ChannelIDs); n > 0 {
		channels = fmt.Sprintf("%d specific channels", n)
	}
	enabled := "❌ No"
	if h.Monitoring() {
		enabled = "✅ Yes"
	}
	return fmt.Sprintf(`**📊 Monitoring Status:**
🔧 **Enabled:** %s
🏠 **Server:** %s
📁 **Log file:** `+"`%s`"+`
📊 **Channels:** %s
📎 **Include attachments:** %s
📋 **Include embeds:** %s`,
		enabled, server, h.cfg.LogFile, channels,
		checkMark(h.cfg.IncludeAttachments), checkMark(h.cfg.IncludeEmbeds))
}

func (h *Handler) logsCommand(s DiscordSession, m *discordgo.Message, _ []string) {
	if h.logs == nil {
		h.reply(s, m, "📝 No log file found. Start monitoring to create logs.")
		return
	}
	st, err := h.logs.Stats()
	if err != nil {
		h.log.Error().Err(err).Msg("log stats failed")
		h.replyError(s, m, "Error getting log information")
		return
	}
	if !st.Exists {
		h.reply(s, m, "📝 No log file found. Start monitoring to create logs.")
		return
	}
	modified := "Unknown"
	if !st.LastModified.IsZero() {
		modified = st.LastModified.Format("2006-01-02 15:04:05")
	}
	h.reply(s, m, fmt.Sprintf(`**📊 Log File Statistics:**
📁 **File:** `+"`%s`"+`
📊 **Size:** %s
📝 **Lines:** %d
🕒 **Last modified:** %s
📈 **Status:** 🟢 Active`, st.Path, formatSize(st.Size), st.Lines, modified))
}

func (h *Handler) statsCommand(s DiscordSession, m *discordgo.Message, _ []string) {
	if h.ledger == nil {
		h.replyError(s, m, "Archive ledger is not available")
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()
	st, err := h.ledger.Stats(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("ledger stats failed")
		h.replyError(s, m, "Error getting archive statistics")
		return
	}
	embed := statsEmbed(st, h.archived.Load(), h.failed.Load())
	if _, err := s.ChannelMessageSendEmbedReply(m.ChannelID, embed, m.Reference()); err != nil {
		h.log.Error().Err(err).Msg("stats reply failed")
	}
}
