package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/eraiza0816/discord-archive/config"
	"github.com/eraiza0816/discord-archive/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type app struct {
	envFile  string
	logLevel string
	cfg      *config.Config
	logFile  io.Closer
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "discord-archive",
		Short:         "Archive Discord messages to Notion with a local file fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logFile != nil {
				a.logFile.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "dotenv file to load")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		newRunCmd(a),
		newInactivityCmd(a),
		newWatchdogCmd(a),
		newHeartbeatCmd(a),
		newNotifyTestCmd(a),
		newNotionCheckCmd(a),
		newActivityCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	config.LoadEnvFile(a.envFile)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	closer, err := logging.Setup(cfg.LogLevel, cfg.AppLogFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logFile = closer
	log.Debug().Str("command", cmd.Name()).Msg("configuration loaded")
	return nil
}
