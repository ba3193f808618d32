package discord

import (
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
	"github.com/eraiza0816/discord-archive/archive"
)

const (
	embedColor      = 0xa8ffee
	maxFieldLength  = 1024 // Discord の Embed Field Value の最大文字数
	maxEmbedsFields = 25
)

func convertAttachments(in []*discordgo.MessageAttachment) []archive.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]archive.Attachment, 0, len(in))
	for _, a := range in {
		if a == nil {
			continue
		}
		out = append(out, archive.Attachment{
			Filename:    a.Filename,
			URL:         a.URL,
			Size:        a.Size,
			ContentType: a.ContentType,
		})
	}
	return out
}

func convertEmbeds(in []*discordgo.MessageEmbed) []archive.Embed {
	if len(in) == 0 {
		return nil
	}
	out := make([]archive.Embed, 0, len(in))
	for _, e := range in {
		if e == nil {
			continue
		}
		out = append(out, archive.Embed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
		})
	}
	return out
}

// statsEmbed は stats コマンドの Embed を組み立てます。
func statsEmbed(ledger archive.LedgerStats, archived, failed int64) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "📦 Archive Statistics",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Total archived", Value: fmt.Sprint(ledger.Total), Inline: true},
			{Name: "This session", Value: fmt.Sprint(archived), Inline: true},
			{Name: "Failures", Value: fmt.Sprint(failed), Inline: true},
		},
	}

	sinks := make([]string, 0, len(ledger.BySink))
	for name := range ledger.BySink {
		sinks = append(sinks, name)
	}
	sort.Strings(sinks)
	for _, name := range sinks {
		if len(embed.Fields) >= maxEmbedsFields {
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Sink: " + name,
			Value:  fmt.Sprint(ledger.BySink[name]),
			Inline: true,
		})
	}
	if ledger.LastArchivedAt != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Last archived " + ledger.LastArchivedAt.Format("2006-01-02 15:04:05 MST")}
	}
	return embed
}

func splitToEmbedFields(text string) []*discordgo.MessageEmbedField {
	var fields []*discordgo.MessageEmbedField
	runes := []rune(text)
	for i := 0; i < len(runes); i += maxFieldLength {
		end := min(i+maxFieldLength, len(runes))
		fields = append(fields, &discordgo.MessageEmbedField{
			Value:  string(runes[i:end]),
			Inline: false,
		})
	}
	return fields
}
