package config

import (
	"fmt"
	"time"

	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/tracing"
)

type AppConfig struct {
	YahooEmail       string `env:"YAHOO_EMAIL,required"`
	YahooAppPassword string `env:"YAHOO_APP_PASSWORD"`
	YahooIMAPHost    string `env:"YAHOO_IMAP_HOST" envDefault:"imap.mail.yahoo.com"`
	YahooIMAPPort    int    `env:"YAHOO_IMAP_PORT" envDefault:"993"`

	GmailOAuthClientID     string `env:"GMAIL_OAUTH_CLIENT_ID,required"`
	GmailOAuthClientSecret string `env:"GMAIL_OAUTH_CLIENT_SECRET,required"`
	GmailOAuthRedirectURI  string `env:"GMAIL_OAUTH_REDIRECT_URI,required"`
	GmailUser              string `env:"GMAIL_USER" envDefault:"me"`
	GmailLabel             string `env:"GMAIL_LABEL" envDefault:"yahoo"`
	DeliverToInbox         bool   `env:"DELIVER_TO_INBOX" envDefault:"true"`

	WatchMailboxes []string `env:"WATCH_MAILBOXES" envSeparator:","`

	SQLitePath   string `env:"SQLITE_PATH" envDefault:"/data/app.db"`
	SQLiteLog    string `env:"SQLITE_LOG_LEVEL" envDefault:"WARN"`
	AppMasterKey string `env:"APP_MASTER_KEY,required"`

	IdleTimeoutSeconds       int    `env:"IDLE_TIMEOUT_SECONDS" envDefault:"900"`
	WatcherPollSeconds       int    `env:"WATCHER_POLL_INTERVAL_SECONDS" envDefault:"30"`
	WorkerPollSeconds        int    `env:"WORKER_POLL_INTERVAL_SECONDS" envDefault:"10"`
	StateMonitorCronSchedule string `env:"STATE_MONITOR_CRON_SCHEDULE" envDefault:"@every 5m"`
}

func (c *AppConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c *AppConfig) WatcherPollInterval() time.Duration {
	return time.Duration(c.WatcherPollSeconds) * time.Second
}

func (c *AppConfig) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollSeconds) * time.Second
}

func (c *AppConfig) IMAPAddr() string {
	return fmt.Sprintf("%s:%d", c.YahooIMAPHost, c.YahooIMAPPort)
}

type AdminConfig struct {
	Enabled bool   `env:"ADMIN_ENABLED" envDefault:"true"`
	Host    string `env:"ADMIN_HOST" envDefault:"0.0.0.0"`
	Port    string `env:"ADMIN_PORT" envDefault:"8080"`
}

type PushoverConfig struct {
	APIToken        string `env:"PUSHOVER_API_TOKEN"`
	UserKey         string `env:"PUSHOVER_USER_KEY"`
	CooldownMinutes int    `env:"PUSHOVER_COOLDOWN_MINUTES" envDefault:"60"`
}

func (c *PushoverConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

type Config struct {
	AppConfig      *AppConfig
	AdminConfig    *AdminConfig
	PushoverConfig *PushoverConfig
	Logger         *logger.Config
	Tracing        *tracing.JaegerConfig
}
