package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// NotionSchema は Notion データベースのプロパティ名の対応表です。
// 空文字のプロパティは書き込みません。
type NotionSchema struct {
	DatabaseTitle string           `json:"database_title"`
	Properties    NotionProperties `json:"properties"`
}

type NotionProperties struct {
	MessageID       string `json:"message_id"`
	Author          string `json:"author"`
	Date            string `json:"date"`
	Server          string `json:"server"`
	Channel         string `json:"channel"`
	Category        string `json:"category"`
	Content         string `json:"content"`
	AttachmentURL   string `json:"attachment_url"`
	AttachmentFiles string `json:"attachment_files"`
	MessageURL      string `json:"message_url"`
	OriginalMessage string `json:"original_message"`
	RepliedMessage  string `json:"replied_message"`
}

// Notion property types as returned by the databases API.
const (
	TypeTitle    = "title"
	TypeRichText = "rich_text"
	TypeDate     = "date"
	TypeSelect   = "select"
	TypeURL      = "url"
	TypeFiles    = "files"
	TypeRelation = "relation"
)

// DefaultNotionSchema returns the property names used by the archive database.
func DefaultNotionSchema() *NotionSchema {
	return &NotionSchema{
		DatabaseTitle: "Discord Archive",
		Properties: NotionProperties{
			MessageID:       "Message ID",
			Author:          "Autor",
			Date:            "Fecha",
			Server:          "Servidor",
			Channel:         "Canal",
			Category:        "Category",
			Content:         "Contenido",
			AttachmentURL:   "URL adjunta",
			AttachmentFiles: "Archivo Adjunto",
			MessageURL:      "URL del mensaje",
			OriginalMessage: "Original Message",
			RepliedMessage:  "Replied message",
		},
	}
}

// Expected returns property name -> type for every enabled property.
func (s *NotionSchema) Expected() map[string]string {
	p := s.Properties
	out := map[string]string{}
	add := func(name, typ string) {
		if name != "" {
			out[name] = typ
		}
	}
	add(p.MessageID, TypeTitle)
	add(p.Author, TypeRichText)
	add(p.Date, TypeDate)
	add(p.Server, TypeSelect)
	add(p.Channel, TypeSelect)
	add(p.Category, TypeSelect)
	add(p.Content, TypeRichText)
	add(p.AttachmentURL, TypeURL)
	add(p.AttachmentFiles, TypeFiles)
	add(p.MessageURL, TypeURL)
	add(p.OriginalMessage, TypeURL)
	add(p.RepliedMessage, TypeRelation)
	return out
}

// LoadNotionSchema はスキーマファイルを読み込みます。ファイルが無い場合はデフォルトを返します。
// ファイルに書かれたキーだけがデフォルトを上書きします。
func LoadNotionSchema(path string) (*NotionSchema, error) {
	schema := DefaultNotionSchema()
	if path == "" {
		return schema, nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema, nil
		}
		return nil, fmt.Errorf("failed to read notion schema %s: %w", path, err)
	}

	if err := json.Unmarshal(file, schema); err != nil {
		return nil, fmt.Errorf("failed to parse notion schema %s: %w", path, err)
	}

	if schema.Properties.MessageID == "" {
		return nil, errors.New("message_id property not defined")
	}
	return schema, nil
}
