package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eraiza0816/discord-archive/activity"
	"github.com/eraiza0816/discord-archive/heartbeat"
	"github.com/eraiza0816/discord-archive/notify"
	"github.com/spf13/cobra"
)

func newHeartbeatCmd(a *app) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "heartbeat [message]",
		Short: "Send a single ping to the heartbeat URL",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := heartbeat.New(a.cfg.HealthchecksPingURL, 0, nil)
			if !p.Enabled() {
				return errors.New("HEALTHCHECKS_PING_URL is not set")
			}
			message := strings.Join(args, " ")
			if message == "" {
				message = "Manual ping"
			}
			if err := p.Ping(cmd.Context(), heartbeat.State(state), message); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ping sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", string(heartbeat.StateSuccess), "ping state: success, start or fail")
	return cmd
}

func newNotifyTestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test email with the SMTP settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := notify.NewNotifier(smtpConfig(a.cfg), nil)
			if err := n.SendTest(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "test email sent to %s\n", strings.Join(a.cfg.AlertRecipientEmail, ", "))
			return nil
		},
	}
}

func newNotionCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "notion-check",
		Short: "Compare the Notion database properties with the expected schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.NotionEnabled() {
				return errors.New("NOTION_TOKEN and NOTION_DATABASE_ID must be set")
			}
			sink, err := buildNotionSink(a.cfg, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			problems, err := sink.ValidateSchema(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(problems) == 0 {
				fmt.Fprintln(out, "Notion database schema OK")
				return nil
			}
			for _, p := range problems {
				fmt.Fprintln(out, "- "+p.String())
			}
			return fmt.Errorf("%d schema problem(s) found", len(problems))
		},
	}
}

func newActivityCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activity",
		Short: "Print the activity tracker status as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tracker, err := activity.NewTracker(a.cfg.ActivityTrackerFile)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tracker.Status())
		},
	}
}
