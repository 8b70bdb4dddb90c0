package config

import "time"

type AppConfig struct {
	DBDriver   string        `yaml:"db_driver" env:"ICSFORMS_DB_DRIVER" env-default:"sqlite"`
	DBURL      string        `yaml:"db_url" env:"ICSFORMS_DB_URL" env-default:""`
	DBPath     string        `yaml:"db_path" env:"ICSFORMS_DB_PATH" env-default:"data/icsforms.db"`
	ListenAddr string        `yaml:"listen_addr" env:"ICSFORMS_LISTEN_ADDR" env-default:"127.0.0.1:8080"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"ICSFORMS_SESSION_TTL" env-default:"3h"`
	CSRFKey    string        `yaml:"csrf_key" env:"ICSFORMS_CSRF_KEY"`
	Pepper     string        `yaml:"pepper" env:"ICSFORMS_PEPPER"`
	TLSEnabled bool          `yaml:"tls_enabled" env:"ICSFORMS_TLS_ENABLED" env-default:"false"`
	TLSCert    string        `yaml:"tls_cert" env:"ICSFORMS_TLS_CERT"`
	TLSKey     string        `yaml:"tls_key" env:"ICSFORMS_TLS_KEY"`

	Forms     FormsConfig     `yaml:"forms"`
	Incidents IncidentsConfig `yaml:"incidents"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Security  SecurityConfig  `yaml:"security"`
}

type FormsConfig struct {
	MaxBodyChars    int `yaml:"max_body_chars" env:"ICSFORMS_FORMS_MAX_BODY_CHARS" env-default:"4000"`
	MaxSubjectChars int `yaml:"max_subject_chars" env:"ICSFORMS_FORMS_MAX_SUBJECT_CHARS" env-default:"140"`
	// VersionLimit caps retained snapshots per form; 0 keeps everything.
	VersionLimit int `yaml:"version_limit" env:"ICSFORMS_FORMS_VERSION_LIMIT" env-default:"0"`
}

type IncidentsConfig struct {
	NumberFormat string `yaml:"number_format" env:"ICSFORMS_INCIDENTS_NUMBER_FORMAT" env-default:"INC-{year}-{seq:04}"`
}

type StorageConfig struct {
	AttachmentsDir string `yaml:"attachments_dir" env:"ICSFORMS_STORAGE_ATTACHMENTS_DIR" env-default:"data/attachments"`
	UploadMaxBytes int64  `yaml:"upload_max_bytes" env:"ICSFORMS_STORAGE_UPLOAD_MAX_BYTES" env-default:"33554432"`
}

type RetentionConfig struct {
	Enabled          bool   `yaml:"enabled" env:"ICSFORMS_RETENTION_ENABLED" env-default:"true"`
	Schedule         string `yaml:"schedule" env:"ICSFORMS_RETENTION_SCHEDULE" env-default:"@hourly"`
	ArchiveAfterDays int    `yaml:"archive_after_days" env:"ICSFORMS_RETENTION_ARCHIVE_AFTER_DAYS" env-default:"30"`
}

type SecurityConfig struct {
	OnlineWindowSec int      `yaml:"online_window_sec" env:"ICSFORMS_SECURITY_ONLINE_WINDOW_SEC" env-default:"300"`
	TrustedProxies  []string `yaml:"trusted_proxies" env:"ICSFORMS_SECURITY_TRUSTED_PROXIES" env-separator:","`
}

const maxUserSessionTTL = 3 * time.Hour

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
