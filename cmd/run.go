package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eraiza0816/discord-archive/activity"
	"github.com/eraiza0816/discord-archive/archive"
	"github.com/eraiza0816/discord-archive/config"
	"github.com/eraiza0816/discord-archive/discord"
	"github.com/eraiza0816/discord-archive/heartbeat"
	"github.com/eraiza0816/discord-archive/loader"
	"github.com/eraiza0816/discord-archive/monitor"
	"github.com/eraiza0816/discord-archive/notify"
	"github.com/eraiza0816/discord-archive/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and archive messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), a.cfg)
		},
	}
}

// connectDiscord blocks until ctx is done or the gateway connection fails.
var connectDiscord = func(ctx context.Context, token string, h *discord.Handler) error {
	return discord.NewBot(token, h).Run(ctx)
}

func runBot(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateListener(); err != nil {
		return err
	}
	// 接続に失敗したら heartbeat などの goroutine も止める
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	arch, err := buildArchiver(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := arch.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close archive ledger")
		}
	}()

	tracker, err := activity.NewTracker(cfg.ActivityTrackerFile)
	if err != nil {
		return err
	}
	if err := tracker.RecordStart(); err != nil {
		log.Warn().Err(err).Msg("failed to record bot start")
	}

	var (
		ledgerStats discord.LedgerStats
		logStats    discord.LogStats
	)
	if l := arch.Ledger(); l != nil {
		ledgerStats = l
	}
	if f := arch.FileSink(); f != nil {
		logStats = f
	}
	handler := discord.NewHandler(discord.HandlerConfig{
		ServerID:           cfg.MonitoringServerID,
		ChannelIDs:         cfg.MonitoringChannelIDs,
		IncludeAttachments: cfg.IncludeAttachments,
		IncludeEmbeds:      cfg.IncludeEmbeds,
		OwnerID:            cfg.OwnerID,
		CommandPrefix:      cfg.CommandPrefix,
		MonitoringEnabled:  cfg.MonitoringEnabled,
		LogFile:            cfg.LogFile,
	}, arch, tracker).WithStats(ledgerStats, logStats)

	var wg sync.WaitGroup
	goRun := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	pinger := heartbeat.New(cfg.HealthchecksPingURL, cfg.HeartbeatInterval(), nil)
	if pinger.Enabled() {
		goRun(func() { pinger.Run(ctx, "bot started") })
	} else {
		log.Info().Msg("HEALTHCHECKS_PING_URL not set, heartbeat disabled")
	}

	notifier := notify.NewNotifier(smtpConfig(cfg), nil)
	if cfg.InactivityInProcess {
		m := monitor.NewInactivityMonitor(tracker, notifier, cfg.InactivityThreshold(), cfg.InactivityCheckInterval())
		goRun(func() { m.Run(ctx) })
	}

	// 静かなサーバーでも watchdog が古いと判定しないよう、接続中は定期的に更新する
	goRun(func() { keepAlive(ctx, tracker, handler.Connected, cfg.MonitorStaleAfter()/2) })

	if cfg.StatusAddr != "" {
		srv := server.New(cfg.StatusAddr, server.Sources{
			Heartbeat:  pinger,
			Activity:   tracker,
			Ledger:     ledgerStats,
			Email:      notifier,
			Monitoring: handler.Monitoring,
		})
		goRun(func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("status server failed")
			}
		})
	}

	err = connectDiscord(ctx, cfg.DiscordToken, handler)
	if err != nil {
		log.Error().Err(err).Msg("discord connection failed, shutting down")
	}
	cancel()
	wg.Wait()
	return err
}

// keepAlive touches the activity file every interval while the gateway is connected.
func keepAlive(ctx context.Context, tracker *activity.Tracker, connected func() bool, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !connected() {
				continue
			}
			if err := tracker.Touch(); err != nil {
				log.Warn().Err(err).Msg("failed to touch activity file")
			}
		case <-ctx.Done():
			return
		}
	}
}

// buildArchiver wires the configured sinks, the ledger and the attachment stores.
func buildArchiver(ctx context.Context, cfg *config.Config) (*archive.Archiver, error) {
	fileSink, err := archive.NewFileSink(cfg.LogFile, cfg.LogFormat, cfg.LogMaxSizeMB)
	if err != nil {
		return nil, err
	}

	var ledger *archive.Ledger
	if cfg.ArchiveDBPath != "" {
		ledger, err = archive.OpenLedger(cfg.ArchiveDBPath)
		if err != nil {
			return nil, err
		}
	}

	var primary archive.Sink
	if cfg.NotionEnabled() {
		sink, err := buildNotionSink(cfg, ledger)
		if err != nil {
			closeLedger(ledger)
			return nil, err
		}
		checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		problems, err := sink.ValidateSchema(checkCtx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("could not validate Notion database schema")
		}
		for _, p := range problems {
			log.Warn().Str("problem", p.String()).Msg("Notion schema mismatch")
		}
		primary = sink
	} else {
		log.Info().Msg("Notion not configured, archiving to the local file only")
	}

	var stores []archive.BlobStore
	if cfg.AttachmentsDir != "" {
		local, err := archive.NewLocalStore(cfg.AttachmentsDir)
		if err != nil {
			closeLedger(ledger)
			return nil, err
		}
		stores = append(stores, local)
	}
	if cfg.GoogleDriveCredentials != "" && cfg.GoogleDriveFolderID != "" {
		drive, err := archive.NewDriveStore(ctx, cfg.GoogleDriveCredentials, cfg.GoogleDriveFolderID)
		if err != nil {
			log.Warn().Err(err).Msg("Google Drive disabled")
		} else {
			stores = append(stores, drive)
		}
	}
	var attachments *archive.AttachmentStore
	if len(stores) > 0 {
		attachments = archive.NewAttachmentStore(archive.NewDownloader(nil, cfg.AttachmentMaxBytes()), stores...)
	}

	return archive.NewArchiver(archive.ArchiverOptions{
		Primary:     primary,
		Fallback:    fileSink,
		Mirror:      cfg.MirrorToFile,
		Ledger:      ledger,
		Attachments: attachments,
	}), nil
}

func buildNotionSink(cfg *config.Config, ledger *archive.Ledger) (*archive.NotionSink, error) {
	schema, err := loader.LoadNotionSchema(cfg.NotionSchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load Notion schema: %w", err)
	}
	var parents archive.ParentLookup
	if ledger != nil {
		parents = ledger
	}
	return archive.NewNotionSink(archive.NewNotionClient(cfg.NotionToken), cfg.NotionDatabaseID, schema, parents), nil
}

func closeLedger(l *archive.Ledger) {
	if l != nil {
		l.Close()
	}
}

func smtpConfig(cfg *config.Config) notify.SMTPConfig {
	return notify.SMTPConfig{
		Server:     cfg.SMTPServer,
		Port:       cfg.SMTPPort,
		Sender:     cfg.SMTPSenderEmail,
		Password:   cfg.SMTPSenderPassword,
		Recipients: cfg.AlertRecipientEmail,
		UseTLS:     cfg.SMTPUseTLS,
	}
}
