package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure returned by ValidateListener.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	DiscordToken  string `mapstructure:"discord_token"`
	OwnerID       string `mapstructure:"owner_id"`
	CommandPrefix string `mapstructure:"command_prefix"`

	MonitoringEnabled    bool     `mapstructure:"monitoring_enabled"`
	MonitoringServerID   string   `mapstructure:"monitoring_server_id"`
	MonitoringChannelIDs []string `mapstructure:"-"`
	IncludeAttachments   bool     `mapstructure:"include_attachments"`
	IncludeEmbeds        bool     `mapstructure:"include_embeds"`

	LogFile       string `mapstructure:"log_file"`
	LogFormat     string `mapstructure:"log_format"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	MirrorToFile  bool   `mapstructure:"archive_mirror_file"`
	ArchiveDBPath string `mapstructure:"archive_db_path"`

	NotionToken      string `mapstructure:"notion_token"`
	NotionDatabaseID string `mapstructure:"notion_database_id"`
	NotionSchemaFile string `mapstructure:"notion_schema_file"`

	AttachmentsDir         string `mapstructure:"attachments_dir"`
	AttachmentMaxMB        int    `mapstructure:"attachment_max_mb"`
	GoogleDriveCredentials string `mapstructure:"google_drive_credentials"`
	GoogleDriveFolderID    string `mapstructure:"google_drive_folder_id"`

	HealthchecksPingURL     string `mapstructure:"healthchecks_ping_url"`
	HeartbeatIntervalSecond int    `mapstructure:"heartbeat_interval"`

	ActivityTrackerFile      string `mapstructure:"activity_tracker_file"`
	InactivityThresholdHours int    `mapstructure:"inactivity_threshold_hours"`
	InactivityCheckMinutes   int    `mapstructure:"inactivity_check_interval_minutes"`
	InactivityInProcess      bool   `mapstructure:"inactivity_in_process"`

	SMTPServer          string   `mapstructure:"smtp_server"`
	SMTPPort            int      `mapstructure:"smtp_port"`
	SMTPSenderEmail     string   `mapstructure:"smtp_sender_email"`
	SMTPSenderPassword  string   `mapstructure:"smtp_sender_password"`
	SMTPUseTLS          bool     `mapstructure:"smtp_use_tls"`
	AlertRecipientEmail []string `mapstructure:"-"`

	MonitorIntervalSecond int    `mapstructure:"monitor_interval"`
	BotProcessName        string `mapstructure:"bot_process_name"`
	BotStartCommand       string `mapstructure:"bot_start_command"`
	AutoRestartBot        bool   `mapstructure:"auto_restart_bot"`
	MonitorStaleAfterMin  int    `mapstructure:"monitor_stale_after"`
	MonitorWatchFile      string `mapstructure:"monitor_watch_file"`

	StatusAddr string `mapstructure:"status_addr"`
	AppLogFile string `mapstructure:"app_log_file"`
	LogLevel   string `mapstructure:"log_level"`
}

var defaults = map[string]any{
	"discord_token":  "",
	"owner_id":       "",
	"command_prefix": "!",

	"monitoring_enabled":     true,
	"monitoring_server_id":   "",
	"monitoring_channel_ids": "",
	"include_attachments":    true,
	"include_embeds":         true,

	"log_file":            "./logs/messages.txt",
	"log_format":          "text",
	"log_max_size_mb":     10,
	"archive_mirror_file": false,
	"archive_db_path":     "data/archive.duckdb",

	"notion_token":       "",
	"notion_database_id": "",
	"notion_schema_file": "json/notion_schema.json",

	"attachments_dir":          "",
	"attachment_max_mb":        25,
	"google_drive_credentials": "",
	"google_drive_folder_id":   "",

	"healthchecks_ping_url": "",
	"heartbeat_interval":    60,

	"activity_tracker_file":             "./logs/bot_activity.json",
	"inactivity_threshold_hours":        8,
	"inactivity_check_interval_minutes": 30,
	"inactivity_in_process":             false,

	"smtp_server":            "smtp.gmail.com",
	"smtp_port":              587,
	"smtp_sender_email":      "",
	"smtp_sender_password":   "",
	"smtp_use_tls":           true,
	"alert_recipient_emails": "",

	"monitor_interval":    120,
	"bot_process_name":    "discord-archive run",
	"bot_start_command":   "./start_bot.sh",
	"auto_restart_bot":    true,
	"monitor_stale_after": 10,
	"monitor_watch_file":  "",
	"status_addr":         "",
	"app_log_file":        "log/app.log",
	"log_level":           "info",
}

// LoadEnvFile は .env を読み込みます。ファイルが無い場合は警告のみです。
func LoadEnvFile(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg(".env ファイルが見つかりません。環境変数のみを使用します")
			return
		}
		log.Warn().Err(err).Str("path", path).Msg(".env ファイルの読み込みに失敗しました")
	}
}

// Load reads the environment into a Config without validating it.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("環境変数の解析に失敗しました: %w", err)
	}
	c.MonitoringChannelIDs = ParseIDList(v.GetString("monitoring_channel_ids"))
	c.AlertRecipientEmail = ParseIDList(v.GetString("alert_recipient_emails"))
	if c.MonitorWatchFile == "" {
		c.MonitorWatchFile = c.ActivityTrackerFile
	}
	return c, nil
}

// ParseIDList splits a comma separated list. Text after '#' is a comment.
func ParseIDList(raw string) []string {
	if i := strings.Index(raw, "#"); i >= 0 {
		raw = raw[:i]
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateListener checks the settings required to connect to Discord.
func (c *Config) ValidateListener() error {
	var missingVars []string
	if c.DiscordToken == "" {
		missingVars = append(missingVars, "DISCORD_TOKEN")
	}
	if len(missingVars) > 0 {
		return fmt.Errorf("%w: 以下の環境変数が設定されていません: %s", ErrInvalid, strings.Join(missingVars, ", "))
	}

	var problems []string
	if c.OwnerID != "" && c.DiscordToken == c.OwnerID {
		problems = append(problems, "DISCORD_TOKEN は OWNER_ID ではなくボットトークンを指定してください")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("LOG_FORMAT は text か json です: %q", c.LogFormat))
	}
	if c.MonitoringServerID != "" && !isSnowflake(c.MonitoringServerID) {
		problems = append(problems, fmt.Sprintf("MONITORING_SERVER_ID が不正です: %q", c.MonitoringServerID))
	}
	for _, id := range c.MonitoringChannelIDs {
		if !isSnowflake(id) {
			problems = append(problems, fmt.Sprintf("MONITORING_CHANNEL_IDS に不正な ID があります: %q", id))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Warnings reports settings that are incomplete but not fatal.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.MonitoringServerID == "" {
		warnings = append(warnings, "MONITORING_SERVER_ID が設定されていないため、メッセージは保存されません")
	}
	if (c.NotionToken == "") != (c.NotionDatabaseID == "") {
		warnings = append(warnings, "NOTION_TOKEN と NOTION_DATABASE_ID の両方が必要です。ファイルにのみ保存します")
	}
	if c.SMTPSenderEmail != "" && (c.SMTPSenderPassword == "" || len(c.AlertRecipientEmail) == 0) {
		warnings = append(warnings, "SMTP 設定が不完全です。アラートはログにのみ出力されます")
	}
	if c.GoogleDriveFolderID != "" && c.GoogleDriveCredentials == "" {
		warnings = append(warnings, "GOOGLE_DRIVE_FOLDER_ID には GOOGLE_DRIVE_CREDENTIALS が必要です")
	}
	return warnings
}

func (c *Config) NotionEnabled() bool {
	return c.NotionToken != "" && c.NotionDatabaseID != ""
}

func (c *Config) EmailEnabled() bool {
	return c.SMTPSenderEmail != "" && c.SMTPSenderPassword != "" && len(c.AlertRecipientEmail) > 0
}

func (c *Config) HeartbeatInterval() time.Duration {
	return positiveOr(c.HeartbeatIntervalSecond, 60) * time.Second
}

func (c *Config) InactivityThreshold() time.Duration {
	return positiveOr(c.InactivityThresholdHours, 8) * time.Hour
}

func (c *Config) InactivityCheckInterval() time.Duration {
	return positiveOr(c.InactivityCheckMinutes, 30) * time.Minute
}

func (c *Config) MonitorInterval() time.Duration {
	return positiveOr(c.MonitorIntervalSecond, 120) * time.Second
}

func (c *Config) MonitorStaleAfter() time.Duration {
	return positiveOr(c.MonitorStaleAfterMin, 10) * time.Minute
}

func (c *Config) AttachmentMaxBytes() int64 {
	return int64(positiveOr(c.AttachmentMaxMB, 25)) * 1024 * 1024
}

func positiveOr(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def)
	}
	return time.Duration(v)
}

func isSnowflake(s string) bool {
	if len(s) < 15 || len(s) > 21 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
