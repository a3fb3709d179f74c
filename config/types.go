package config

import "time"

type AppConfig struct {
	DBDriver     string             `yaml:"db_driver" env:"CONDOR_DB_DRIVER" env-default:"sqlite"`
	DBURL        string             `yaml:"db_url" env:"CONDOR_DB_URL" env-default:"data/condor.db"`
	ListenAddr   string             `yaml:"listen_addr" env:"CONDOR_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	SessionTTL   time.Duration      `yaml:"session_ttl" env:"CONDOR_SESSION_TTL" env-default:"3h"`
	CSRFKey      string             `yaml:"csrf_key" env:"CONDOR_CSRF_KEY"`
	Pepper       string             `yaml:"pepper" env:"CONDOR_PEPPER"`
	Log          LogConfig          `yaml:"log"`
	Security     SecurityConfig     `yaml:"security"`
	Feed         FeedConfig         `yaml:"feed"`
	Notify       NotifyConfig       `yaml:"notify"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"CONDOR_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"CONDOR_LOG_FORMAT" env-default:"console"`
}

type SecurityConfig struct {
	TrustedProxies []string `yaml:"trusted_proxies" env:"CONDOR_TRUSTED_PROXIES" env-separator:","`
	LoginBurst     int      `yaml:"login_burst" env:"CONDOR_LOGIN_BURST" env-default:"5"`
}

type FeedConfig struct {
	Enabled   bool          `yaml:"enabled" env:"CONDOR_FEED_ENABLED" env-default:"false"`
	SourceURL string        `yaml:"source_url" env:"CONDOR_FEED_SOURCE_URL"`
	APIKey    string        `yaml:"api_key" env:"CONDOR_FEED_API_KEY"`
	Timeout   time.Duration `yaml:"timeout" env:"CONDOR_FEED_TIMEOUT" env-default:"10s"`
	PollEvery string        `yaml:"poll_every" env:"CONDOR_FEED_POLL_EVERY" env-default:"@every 30s"`
}

type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url" env:"CONDOR_NOTIFY_WEBHOOK_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"CONDOR_NOTIFY_TIMEOUT" env-default:"10s"`
	QueueSize  int           `yaml:"queue_size" env:"CONDOR_NOTIFY_QUEUE_SIZE" env-default:"256"`
}

type HousekeepingConfig struct {
	Enabled          bool   `yaml:"enabled" env:"CONDOR_HOUSEKEEPING_ENABLED" env-default:"true"`
	SessionPurgeSpec string `yaml:"session_purge_spec" env:"CONDOR_HOUSEKEEPING_SESSION_PURGE_SPEC" env-default:"@hourly"`
	AuditRetainDays  int    `yaml:"audit_retain_days" env:"CONDOR_HOUSEKEEPING_AUDIT_RETAIN_DAYS" env-default:"365"`
}

const maxUserSessionTTL = 12 * time.Hour

func (c *AppConfig) EffectiveSessionTTL() time.Duration {
	ttl := maxUserSessionTTL
	if c != nil && c.SessionTTL > 0 {
		ttl = c.SessionTTL
	}
	if ttl > maxUserSessionTTL {
		return maxUserSessionTTL
	}
	return ttl
}
