package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultCategory はカテゴリに属さないチャンネルのラベルです。
const DefaultCategory = "Sin categoría"

var (
	// ErrAlreadyArchived is returned when the ledger already holds the message ID.
	ErrAlreadyArchived = errors.New("message already archived")
	// ErrNoSink is returned when neither the primary nor the fallback sink is configured.
	ErrNoSink = errors.New("no archive sink configured")
)

// Message は保存対象となる Discord メッセージのメタデータです。
type Message struct {
	ID            string       `json:"message_id"`
	GuildID       string       `json:"guild_id"`
	GuildName     string       `json:"guild_name"`
	ChannelID     string       `json:"channel_id"`
	ChannelName   string       `json:"channel_name"`
	CategoryName  string       `json:"category"`
	AuthorID      string       `json:"author_id"`
	AuthorName    string       `json:"author_name"`
	AuthorDisplay string       `json:"author_display_name,omitempty"`
	Content       string       `json:"content"`
	Timestamp     time.Time    `json:"timestamp"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	Embeds        []Embed      `json:"embeds,omitempty"`
	URLs          []string     `json:"urls,omitempty"`
	ReplyToID     string       `json:"reply_to_id,omitempty"`
	JumpURL       string       `json:"jump_url"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	Size        int    `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	// ArchivedURL is set when the attachment was copied to an attachment store.
	ArchivedURL string `json:"archived_url,omitempty"`
}

// Link returns the URL that should be published for the attachment.
func (a Attachment) Link() string {
	if isHTTPURL(a.ArchivedURL) {
		return a.ArchivedURL
	}
	return a.URL
}

type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// IsReply reports whether the message references another message.
func (m *Message) IsReply() bool {
	return m.ReplyToID != ""
}

// PrimaryURL is the first attachment link, or the first URL found in the content.
func (m *Message) PrimaryURL() string {
	for _, a := range m.Attachments {
		if link := a.Link(); link != "" {
			return link
		}
	}
	if len(m.URLs) > 0 {
		return m.URLs[0]
	}
	return ""
}

// JumpURL builds the discord.com link for a guild message.
func JumpURL(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// Result describes where a message ended up.
type Result struct {
	Sink    string
	PageID  string
	PageURL string
}

// Sink は Message を外部に永続化する保存先です。
type Sink interface {
	Name() string
	Save(ctx context.Context, msg *Message) (Result, error)
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
