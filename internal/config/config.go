// Package config loads application configuration from file and environment
// and owns global logger initialization. Core packages receive explicit
// config values at construction; nothing below cmd/ reads process state.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Mail   MailConfig   `yaml:"mail" mapstructure:"mail"`
	Portal PortalConfig `yaml:"portal" mapstructure:"portal"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend holding the ledgers and
// normalized quotation tables.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MailConfig configures the FIMA mailbox transport.
type MailConfig struct {
	Server        string `yaml:"server" mapstructure:"server"`
	Port          int    `yaml:"port" mapstructure:"port"`
	User          string `yaml:"user" mapstructure:"user"`
	Password      string `yaml:"password" mapstructure:"password"`
	FromAddress   string `yaml:"from_address" mapstructure:"from_address"`
	Mailbox       string `yaml:"mailbox" mapstructure:"mailbox"`
	ArchiveFolder string `yaml:"archive_folder" mapstructure:"archive_folder"`
	AttachDir     string `yaml:"attach_dir" mapstructure:"attach_dir"`
}

// PortalConfig configures the CNV portal transport.
type PortalConfig struct {
	ListingURL       string `yaml:"listing_url" mapstructure:"listing_url"`
	DownloadSelector string `yaml:"download_selector" mapstructure:"download_selector"`
	ExpandSelector   string `yaml:"expand_selector" mapstructure:"expand_selector"`
	DownloadDir      string `yaml:"download_dir" mapstructure:"download_dir"`
	PageWaitSecs     int    `yaml:"page_wait_secs" mapstructure:"page_wait_secs"`
	DownloadWaitSecs int    `yaml:"download_wait_secs" mapstructure:"download_wait_secs"`
	Headless         bool   `yaml:"headless" mapstructure:"headless"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FONDOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("mail.port", 993)
	v.SetDefault("mail.mailbox", "INBOX")
	v.SetDefault("mail.archive_folder", "INBOX.fima_archivados")
	v.SetDefault("mail.attach_dir", "/var/lib/fondos/adjuntos")
	v.SetDefault("portal.listing_url", "https://www.cnv.gov.ar/SitioWeb/FondosComunesInversion/CuotaPartes")
	v.SetDefault("portal.download_selector", "a.downloadFile")
	v.SetDefault("portal.expand_selector", "span.btn.btn-leer-mas")
	v.SetDefault("portal.page_wait_secs", 10)
	v.SetDefault("portal.download_wait_secs", 20)
	v.SetDefault("portal.headless", true)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
