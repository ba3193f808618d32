package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Intents は保存に必要な Gateway Intent です。MESSAGE_CONTENT は Developer Portal で有効化が必要です。
const Intents = discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuilds

// Bot は公式の Bot トークンで Gateway に接続します。
type Bot struct {
	token   string
	handler *Handler
}

func NewBot(token string, handler *Handler) *Bot {
	return &Bot{token: token, handler: handler}
}

// Run connects to Discord and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	session, err := discordgo.New("Bot " + b.token)
	if err != nil {
		return fmt.Errorf("Discord セッションの作成に失敗しました: %w", err)
	}
	session.Identify.Intents = Intents
	b.handler.ctx = ctx

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.handler.onReady(&discordgoSession{s}, r)
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		var selfID string
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		b.handler.handleMessageEvent(&discordgoSession{s}, m.Message, selfID)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		b.handler.setConnected(true)
		b.handler.log.Info().Msg("gateway session resumed")
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.handler.setConnected(false)
		b.handler.log.Warn().Msg("disconnected from gateway, discordgo will reconnect")
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("Discord への接続に失敗しました: %w", err)
	}
	b.handler.log.Info().Msg("Bot is running. Press CTRL-C to exit.")

	<-ctx.Done()
	b.handler.setConnected(false)
	if err := session.Close(); err != nil {
		return fmt.Errorf("Discord セッションの切断に失敗しました: %w", err)
	}
	b.handler.log.Info().Msg("bot stopped")
	return nil
}
