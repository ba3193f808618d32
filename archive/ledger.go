package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// LedgerEntry は保存済みメッセージ 1 件分の記録です。
type LedgerEntry struct {
	MessageID  string
	Sink       string
	PageID     string
	PageURL    string
	GuildID    string
	ChannelID  string
	AuthorID   string
	ReplyToID  string
	MessageAt  time.Time
	ArchivedAt time.Time
}

type LedgerStats struct {
	Total          int            `json:"total"`
	BySink         map[string]int `json:"by_sink"`
	LastArchivedAt *time.Time     `json:"last_archived_at,omitempty"`
}

// Ledger は保存済みメッセージ ID を DuckDB に記録し、重複保存と返信先の解決に使います。
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// OpenLedger opens (or creates) the DuckDB file at dbPath.
func OpenLedger(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("データディレクトリの作成に失敗しました: %w", err)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("DuckDBデータベースへの接続に失敗しました: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS archived_messages (
		message_id VARCHAR PRIMARY KEY,
		sink VARCHAR NOT NULL,
		page_id VARCHAR NOT NULL DEFAULT '',
		page_url VARCHAR NOT NULL DEFAULT '',
		guild_id VARCHAR NOT NULL DEFAULT '',
		channel_id VARCHAR NOT NULL DEFAULT '',
		author_id VARCHAR NOT NULL DEFAULT '',
		reply_to_id VARCHAR NOT NULL DEFAULT '',
		message_at TIMESTAMP,
		archived_at TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("archived_messagesテーブルの作成に失敗しました: %w", err)
	}

	return &Ledger{db: db, now: time.Now}, nil
}

// Lookup returns the entry for messageID. ok is false when the message was never archived.
func (l *Ledger) Lookup(ctx context.Context, messageID string) (entry LedgerEntry, ok bool, err error) {
	querySQL := `
	SELECT message_id, sink, page_id, page_url, guild_id, channel_id, author_id, reply_to_id, message_at, archived_at
	FROM archived_messages WHERE message_id = ?;`

	var messageAt sql.NullTime
	err = l.db.QueryRowContext(ctx, querySQL, messageID).Scan(
		&entry.MessageID, &entry.Sink, &entry.PageID, &entry.PageURL,
		&entry.GuildID, &entry.ChannelID, &entry.AuthorID, &entry.ReplyToID,
		&messageAt, &entry.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, fmt.Errorf("台帳の検索に失敗しました: %w", err)
	}
	if messageAt.Valid {
		entry.MessageAt = messageAt.Time
	}
	return entry, true, nil
}

// Record upserts the outcome of archiving msg.
func (l *Ledger) Record(ctx context.Context, msg *Message, res Result) error {
	upsertSQL := `
	INSERT INTO archived_messages (message_id, sink, page_id, page_url, guild_id, channel_id, author_id, reply_to_id, message_at, archived_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (message_id) DO UPDATE SET
		sink = excluded.sink,
		page_id = excluded.page_id,
		page_url = excluded.page_url,
		archived_at = excluded.archived_at;`

	var messageAt any
	if !msg.Timestamp.IsZero() {
		messageAt = msg.Timestamp.UTC()
	}
	_, err := l.db.ExecContext(ctx, upsertSQL,
		msg.ID, res.Sink, res.PageID, res.PageURL,
		msg.GuildID, msg.ChannelID, msg.AuthorID, msg.ReplyToID,
		messageAt, l.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("台帳への記録に失敗しました: %w", err)
	}
	return nil
}

// Stats aggregates the ledger per sink.
func (l *Ledger) Stats(ctx context.Context) (LedgerStats, error) {
	stats := LedgerStats{BySink: map[string]int{}}

	rows, err := l.db.QueryContext(ctx, "SELECT sink, COUNT(*) FROM archived_messages GROUP BY sink;")
	if err != nil {
		return stats, fmt.Errorf("台帳の集計に失敗しました: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sink string
		var count int
		if err := rows.Scan(&sink, &count); err != nil {
			return stats, fmt.Errorf("台帳の集計結果の読み取りに失敗しました: %w", err)
		}
		stats.BySink[sink] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("台帳の集計に失敗しました: %w", err)
	}

	var last sql.NullTime
	if err := l.db.QueryRowContext(ctx, "SELECT MAX(archived_at) FROM archived_messages;").Scan(&last); err != nil {
		return stats, fmt.Errorf("最終保存時刻の取得に失敗しました: %w", err)
	}
	if last.Valid {
		t := last.Time
		stats.LastArchivedAt = &t
	}
	return stats, nil
}

// Close はデータベース接続を閉じます。
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
