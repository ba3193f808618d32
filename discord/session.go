package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordSession defines the interface for discordgo session methods used by the handlers.
// This allows for mocking the session in tests.
type DiscordSession interface {
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbedReply(channelID string, embed *discordgo.MessageEmbed, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	StateChannel(channelID string) (*discordgo.Channel, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	StateGuild(guildID string) (*discordgo.Guild, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildCount() int
	HeartbeatLatency() time.Duration
}

// discordgoSession is a wrapper around discordgo.Session to add the missing methods.
type discordgoSession struct {
	*discordgo.Session
}

func (s *discordgoSession) StateChannel(channelID string) (*discordgo.Channel, error) {
	return s.State.Channel(channelID)
}

func (s *discordgoSession) StateGuild(guildID string) (*discordgo.Guild, error) {
	return s.State.Guild(guildID)
}

func (s *discordgoSession) GuildCount() int {
	s.State.RLock()
	defer s.State.RUnlock()
	return len(s.State.Guilds)
}

// ensure discordgoSession implements DiscordSession
var _ DiscordSession = (*discordgoSession)(nil)
