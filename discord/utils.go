package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

func (h *Handler) reply(s DiscordSession, m *discordgo.Message, content string) {
	if _, err := s.ChannelMessageSendReply(m.ChannelID, content, m.Reference()); err != nil {
		h.log.Error().Err(err).Str("channel_id", m.ChannelID).Msg("failed to send reply")
	}
}

func (h *Handler) replyError(s DiscordSession, m *discordgo.Message, msg string) {
	h.reply(s, m, "❌ "+msg)
}

func (h *Handler) replySuccess(s DiscordSession, m *discordgo.Message, msg string) {
	h.reply(s, m, "✅ "+msg)
}

// formatSize は 1MB 未満を KB、それ以上を MB で表示します。
func formatSize(size int64) string {
	kb := float64(size) / 1024
	if mb := kb / 1024; mb >= 1 {
		return fmt.Sprintf("%.2f MB", mb)
	}
	return fmt.Sprintf("%.2f KB", kb)
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func checkMark(b bool) string {
	if b {
		return "✅"
	}
	return "❌"
}

func statusIcon(b bool) string {
	if b {
		return "🟢"
	}
	return "🔴"
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}
