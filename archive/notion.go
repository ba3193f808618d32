package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/eraiza0816/discord-archive/loader"
	"github.com/eraiza0816/discord-archive/logging"
	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"
)

const (
	notionSinkName = "notion"

	// Notion の rich_text 1 要素あたりの上限と、1 プロパティあたりの要素数上限。
	notionTextChunk  = 2000
	notionMaxChunks  = 100
	notionNameLimit  = 100
	notionPageURLFmt = "https://www.notion.so/%s"
)

// NotionPages is satisfied by notionapi.Client.Page.
type NotionPages interface {
	Create(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// NotionDatabases is satisfied by notionapi.Client.Database.
type NotionDatabases interface {
	Get(ctx context.Context, id notionapi.DatabaseID) (*notionapi.Database, error)
	Query(ctx context.Context, id notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

// ParentLookup resolves a message ID to an already archived entry.
type ParentLookup interface {
	Lookup(ctx context.Context, messageID string) (LedgerEntry, bool, error)
}

// NotionSink はメッセージを Notion データベースのページとして保存します。
type NotionSink struct {
	pages      NotionPages
	databases  NotionDatabases
	databaseID notionapi.DatabaseID
	schema     *loader.NotionSchema
	parents    ParentLookup
	log        zerolog.Logger
}

// NewNotionClient builds the API client with retries on rate limiting.
func NewNotionClient(token string) *notionapi.Client {
	return notionapi.NewClient(notionapi.Token(token),
		notionapi.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		notionapi.WithRetry(3),
	)
}

func NewNotionSink(client *notionapi.Client, databaseID string, schema *loader.NotionSchema, parents ParentLookup) *NotionSink {
	return NewNotionSinkWithServices(client.Page, client.Database, databaseID, schema, parents)
}

func NewNotionSinkWithServices(pages NotionPages, databases NotionDatabases, databaseID string, schema *loader.NotionSchema, parents ParentLookup) *NotionSink {
	if schema == nil {
		schema = loader.DefaultNotionSchema()
	}
	return &NotionSink{
		pages:      pages,
		databases:  databases,
		databaseID: notionapi.DatabaseID(databaseID),
		schema:     schema,
		parents:    parents,
		log:        logging.Component("notion"),
	}
}

func (n *NotionSink) Name() string { return notionSinkName }

func (n *NotionSink) Save(ctx context.Context, msg *Message) (Result, error) {
	props := n.buildProperties(msg)

	if msg.IsReply() {
		parentID, parentURL := n.findParent(ctx, msg.ReplyToID)
		p := n.schema.Properties
		if parentURL != "" && p.OriginalMessage != "" {
			props[p.OriginalMessage] = notionapi.URLProperty{URL: parentURL}
		}
		if parentID != "" && p.RepliedMessage != "" {
			props[p.RepliedMessage] = notionapi.RelationProperty{
				Relation: []notionapi.Relation{{ID: notionapi.PageID(parentID)}},
			}
		}
	}

	page, err := n.pages.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: n.databaseID,
		},
		Properties: props,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create Notion page: %w", err)
	}

	id := page.ID.String()
	return Result{Sink: notionSinkName, PageID: id, PageURL: pageURL(id, page.URL)}, nil
}

func (n *NotionSink) buildProperties(msg *Message) notionapi.Properties {
	p := n.schema.Properties
	props := notionapi.Properties{}

	props[p.MessageID] = notionapi.TitleProperty{Title: richText(msg.ID)}

	if p.Author != "" {
		author := msg.AuthorName
		if msg.AuthorDisplay != "" && msg.AuthorDisplay != strings.TrimPrefix(author, "@") {
			author = fmt.Sprintf("%s (%s)", author, msg.AuthorDisplay)
		}
		props[p.Author] = notionapi.RichTextProperty{RichText: richText(author)}
	}
	if p.Date != "" && !msg.Timestamp.IsZero() {
		d := notionapi.Date(msg.Timestamp)
		props[p.Date] = notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
	}
	if p.Server != "" && msg.GuildName != "" {
		props[p.Server] = notionapi.SelectProperty{Select: notionapi.Option{Name: selectName(msg.GuildName)}}
	}
	if p.Channel != "" && msg.ChannelName != "" {
		props[p.Channel] = notionapi.SelectProperty{Select: notionapi.Option{Name: selectName(msg.ChannelName)}}
	}
	if p.Category != "" {
		category := msg.CategoryName
		if category == "" {
			category = DefaultCategory
		}
		props[p.Category] = notionapi.SelectProperty{Select: notionapi.Option{Name: selectName(category)}}
	}
	if p.Content != "" && msg.Content != "" {
		props[p.Content] = notionapi.RichTextProperty{RichText: richText(msg.Content)}
	}
	if p.AttachmentURL != "" {
		if u := msg.PrimaryURL(); u != "" {
			props[p.AttachmentURL] = notionapi.URLProperty{URL: u}
		}
	}
	if p.AttachmentFiles != "" && len(msg.Attachments) > 0 {
		files := make([]notionapi.File, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			files = append(files, notionapi.File{
				Name:     truncateRunes(a.Filename, notionNameLimit),
				Type:     notionapi.FileTypeExternal,
				External: &notionapi.FileObject{URL: a.Link()},
			})
		}
		props[p.AttachmentFiles] = notionapi.FilesProperty{Files: files}
	}
	if p.MessageURL != "" && msg.JumpURL != "" {
		props[p.MessageURL] = notionapi.URLProperty{URL: msg.JumpURL}
	}
	return props
}

// findParent looks in the ledger first, then queries the database by Message ID.
// A missing parent returns empty strings.
func (n *NotionSink) findParent(ctx context.Context, messageID string) (pageID, link string) {
	if n.parents != nil {
		entry, ok, err := n.parents.Lookup(ctx, messageID)
		if err != nil {
			n.log.Warn().Err(err).Str("reply_to", messageID).Msg("ledger lookup failed")
		} else if ok && entry.PageID != "" {
			return entry.PageID, pageURL(entry.PageID, entry.PageURL)
		}
	}

	if n.databases == nil {
		return "", ""
	}
	resp, err := n.databases.Query(ctx, n.databaseID, &notionapi.DatabaseQueryRequest{
		Filter: &notionapi.PropertyFilter{
			Property: n.schema.Properties.MessageID,
			RichText: &notionapi.TextFilterCondition{Equals: messageID},
		},
		PageSize: 1,
	})
	if err != nil {
		n.log.Warn().Err(err).Str("reply_to", messageID).Msg("parent query failed")
		return "", ""
	}
	if resp == nil || len(resp.Results) == 0 {
		n.log.Debug().Str("reply_to", messageID).Msg("parent message not archived")
		return "", ""
	}
	page := resp.Results[0]
	id := page.ID.String()
	return id, pageURL(id, page.URL)
}

// SchemaProblem は DB 側のプロパティと期待値の差分です。Actual が空なら欠落です。
type SchemaProblem struct {
	Property string
	Expected string
	Actual   string
}

func (p SchemaProblem) String() string {
	if p.Actual == "" {
		return fmt.Sprintf("missing property %q (%s)", p.Property, p.Expected)
	}
	return fmt.Sprintf("property %q is %s, expected %s", p.Property, p.Actual, p.Expected)
}

// ValidateSchema retrieves the database and compares its properties with the schema.
func (n *NotionSink) ValidateSchema(ctx context.Context) ([]SchemaProblem, error) {
	if n.databases == nil {
		return nil, errors.New("notion database service not configured")
	}
	db, err := n.databases.Get(ctx, n.databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve Notion database: %w", err)
	}

	expected := n.schema.Expected()
	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []SchemaProblem
	for _, name := range names {
		want := expected[name]
		cfg, ok := db.Properties[name]
		if !ok || cfg == nil {
			problems = append(problems, SchemaProblem{Property: name, Expected: want})
			continue
		}
		if got := string(cfg.GetType()); got != want {
			problems = append(problems, SchemaProblem{Property: name, Expected: want, Actual: got})
		}
	}
	return problems, nil
}

// richText splits s into Notion-sized text elements.
func richText(s string) []notionapi.RichText {
	chunks := chunkRunes(s, notionTextChunk, notionMaxChunks)
	out := make([]notionapi.RichText, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: c},
		})
	}
	return out
}

func chunkRunes(s string, size, limit int) []string {
	if s == "" {
		return []string{""}
	}
	r := []rune(s)
	var out []string
	for len(r) > 0 && len(out) < limit {
		n := size
		if len(r) < n {
			n = len(r)
		}
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}

// Notion の select オプション名にはカンマを使えない。
func selectName(s string) string {
	return truncateRunes(strings.ReplaceAll(s, ",", " "), notionNameLimit)
}

func pageURL(pageID, link string) string {
	if link != "" {
		return link
	}
	return fmt.Sprintf(notionPageURLFmt, strings.ReplaceAll(pageID, "-", ""))
}
