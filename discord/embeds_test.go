package discord

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/eraiza0816/discord-archive/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitToEmbedFields(t *testing.T) {
	tests := []struct {
		name           string
		inputText      string
		expectedValues []string
	}{
		{name: "Empty string", inputText: "", expectedValues: nil},
		{name: "Short string", inputText: "short", expectedValues: []string{"short"}},
		{name: "Exactly maxLen", inputText: strings.Repeat("a", maxFieldLength), expectedValues: []string{strings.Repeat("a", maxFieldLength)}},
		{name: "Slightly longer than maxLen", inputText: strings.Repeat("b", maxFieldLength) + "c", expectedValues: []string{strings.Repeat("b", maxFieldLength), "c"}},
		// バイト数ではなく文字数で分割される
		{name: "Multi-byte characters", inputText: strings.Repeat("あ", maxFieldLength) + "い", expectedValues: []string{strings.Repeat("あ", maxFieldLength), "い"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := splitToEmbedFields(tt.inputText)
			require.Len(t, fields, len(tt.expectedValues))
			for i, want := range tt.expectedValues {
				assert.Equal(t, want, fields[i].Value)
				assert.Empty(t, fields[i].Name)
				assert.False(t, fields[i].Inline)
			}
		})
	}
}

func TestConvertAttachmentsAndEmbeds(t *testing.T) {
	assert.Nil(t, convertAttachments(nil))
	assert.Nil(t, convertEmbeds(nil))

	atts := convertAttachments([]*discordgo.MessageAttachment{
		{Filename: "a.pdf", URL: "https://cdn.discordapp.com/a.pdf", Size: 2048, ContentType: "application/pdf"},
		nil,
	})
	assert.Equal(t, []archive.Attachment{{Filename: "a.pdf", URL: "https://cdn.discordapp.com/a.pdf", Size: 2048, ContentType: "application/pdf"}}, atts)

	embeds := convertEmbeds([]*discordgo.MessageEmbed{{Title: "T", Description: "D", URL: "https://example.com"}, nil})
	assert.Equal(t, []archive.Embed{{Title: "T", Description: "D", URL: "https://example.com"}}, embeds)
}

func TestStatsEmbed(t *testing.T) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := statsEmbed(archive.LedgerStats{Total: 3, BySink: map[string]int{"notion": 2, "file": 1}, LastArchivedAt: &last}, 2, 1)

	require.Len(t, e.Fields, 5)
	assert.Equal(t, "3", e.Fields[0].Value)
	assert.Equal(t, "2", e.Fields[1].Value)
	assert.Equal(t, "1", e.Fields[2].Value)
	assert.Equal(t, "Sink: file", e.Fields[3].Name)
	require.NotNil(t, e.Footer)
	assert.Equal(t, "Last archived 2024-05-01 12:00:00 UTC", e.Footer.Text)

	e = statsEmbed(archive.LedgerStats{}, 0, 0)
	assert.Len(t, e.Fields, 3)
	assert.Nil(t, e.Footer)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "2.00 KB", formatSize(2048))
	assert.Equal(t, "1.50 MB", formatSize(1536*1024))
	assert.Equal(t, "26h 3m 4s", formatUptime(26*time.Hour+3*time.Minute+4*time.Second))
}
