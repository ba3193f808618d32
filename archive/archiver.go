package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/eraiza0816/discord-archive/logging"
	"github.com/rs/zerolog"
)

// Archiver は重複チェック、添付ファイル保存、保存先への書き込み、台帳記録を順に行います。
type Archiver struct {
	primary     Sink
	fallback    *FileSink
	mirror      bool
	ledger      *Ledger
	attachments *AttachmentStore
	log         zerolog.Logger
}

type ArchiverOptions struct {
	// Primary is usually the Notion sink. Nil means file only.
	Primary  Sink
	Fallback *FileSink
	// Mirror writes to the file sink even when the primary succeeded.
	Mirror      bool
	Ledger      *Ledger
	Attachments *AttachmentStore
}

func NewArchiver(opts ArchiverOptions) *Archiver {
	return &Archiver{
		primary:     opts.Primary,
		fallback:    opts.Fallback,
		mirror:      opts.Mirror,
		ledger:      opts.Ledger,
		attachments: opts.Attachments,
		log:         logging.Component("archiver"),
	}
}

// Archive stores msg. It returns ErrAlreadyArchived for duplicates and an error
// only when every configured sink failed.
func (a *Archiver) Archive(ctx context.Context, msg *Message) (Result, error) {
	if a.primary == nil && a.fallback == nil {
		return Result{}, ErrNoSink
	}

	if a.ledger != nil {
		if _, ok, err := a.ledger.Lookup(ctx, msg.ID); err != nil {
			a.log.Warn().Err(err).Str("message_id", msg.ID).Msg("ledger lookup failed")
		} else if ok {
			return Result{}, ErrAlreadyArchived
		}
	}

	a.attachments.Process(ctx, msg)

	var (
		res        Result
		primaryErr error
		saved      bool
	)
	if a.primary != nil {
		res, primaryErr = a.primary.Save(ctx, msg)
		if primaryErr != nil {
			a.log.Error().Err(primaryErr).Str("message_id", msg.ID).Str("sink", a.primary.Name()).Msg("primary sink failed")
		} else {
			saved = true
		}
	}

	if a.fallback != nil && (!saved || a.mirror) {
		fileRes, err := a.fallback.Save(ctx, msg)
		switch {
		case err != nil && !saved:
			return Result{}, errors.Join(primaryErr, fmt.Errorf("file sink: %w", err))
		case err != nil:
			a.log.Warn().Err(err).Str("message_id", msg.ID).Msg("mirror write failed")
		case !saved:
			res = fileRes
			saved = true
		}
	}

	if !saved {
		return Result{}, primaryErr
	}

	if a.ledger != nil {
		if err := a.ledger.Record(ctx, msg, res); err != nil {
			a.log.Warn().Err(err).Str("message_id", msg.ID).Msg("ledger record failed")
		}
	}
	return res, nil
}

// Ledger returns the ledger, which may be nil.
func (a *Archiver) Ledger() *Ledger { return a.ledger }

// FileSink returns the file sink, which may be nil.
func (a *Archiver) FileSink() *FileSink { return a.fallback }

// Close releases the ledger.
func (a *Archiver) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}
