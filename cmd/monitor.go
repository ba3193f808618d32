package cmd

import (
	"fmt"

	"github.com/eraiza0816/discord-archive/activity"
	"github.com/eraiza0816/discord-archive/heartbeat"
	"github.com/eraiza0816/discord-archive/monitor"
	"github.com/eraiza0816/discord-archive/notify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInactivityCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "inactivity",
		Short: "Watch the activity file and email an alert when the bot goes silent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			tracker, err := activity.NewTracker(cfg.ActivityTrackerFile)
			if err != nil {
				return err
			}
			notifier := notify.NewNotifier(smtpConfig(cfg), nil)
			m := monitor.NewInactivityMonitor(tracker, notifier, cfg.InactivityThreshold(), cfg.InactivityCheckInterval())

			if once {
				res := m.Check(cmd.Context())
				if !res.HasData {
					fmt.Fprintln(cmd.OutOrStdout(), "no activity data")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "last activity %.1f hours ago, inactive: %t, alert sent: %t\n",
					res.Since.Hours(), res.Inactive, res.AlertSent)
				return nil
			}
			m.Run(cmd.Context())
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single check and exit")
	return cmd
}

func newWatchdogCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Monitor the bot process and restart it when it stops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			var pinger monitor.Pinger
			if hb := heartbeat.New(cfg.HealthchecksPingURL, 0, nil); hb.Enabled() {
				pinger = hb
			} else {
				log.Info().Msg("HEALTHCHECKS_PING_URL not set, watchdog runs without heartbeat")
			}

			wd := monitor.NewWatchdog(monitor.WatchdogConfig{
				ProcessName:  cfg.BotProcessName,
				StartCommand: cfg.BotStartCommand,
				AutoRestart:  cfg.AutoRestartBot,
				WatchFile:    cfg.MonitorWatchFile,
				StaleAfter:   cfg.MonitorStaleAfter(),
				Interval:     cfg.MonitorInterval(),
			}, monitor.SystemProcesses{}, pinger)

			if once {
				h := wd.Tick(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "%s, healthy: %t\n", h, h.Healthy)
				return nil
			}
			wd.Run(cmd.Context())
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single check and exit")
	return cmd
}
