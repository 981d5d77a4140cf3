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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Gmail     GmailConfig     `yaml:"gmail" mapstructure:"gmail"`
	Twilio    TwilioConfig    `yaml:"twilio" mapstructure:"twilio"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Crypto    CryptoConfig    `yaml:"crypto" mapstructure:"crypto"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// StorageConfig configures the blob store for uploaded files.
type StorageConfig struct {
	Dir              string `yaml:"dir" mapstructure:"dir"`
	MaxFileSizeBytes int64  `yaml:"max_file_size_bytes" mapstructure:"max_file_size_bytes"`
}

// RedisConfig configures the queue and rate-limit backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AnthropicConfig holds Anthropic API settings for extraction calls.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	Model           string `yaml:"model" mapstructure:"model"`
	MaxTokens       int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	CallTimeoutSecs int    `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
}

// OCRConfig configures text extraction from images and PDFs.
type OCRConfig struct {
	Languages          string `yaml:"languages" mapstructure:"languages"`
	ShortTextThreshold int    `yaml:"short_text_threshold" mapstructure:"short_text_threshold"`
	MaxImageWidth      int    `yaml:"max_image_width" mapstructure:"max_image_width"`
}

// GmailConfig holds Google OAuth credentials for mailbox sync.
type GmailConfig struct {
	ClientID       string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret   string `yaml:"client_secret" mapstructure:"client_secret"`
	RedirectURL    string `yaml:"redirect_url" mapstructure:"redirect_url"`
	PageSize       int    `yaml:"page_size" mapstructure:"page_size"`
	PagesPerMinute int    `yaml:"pages_per_minute" mapstructure:"pages_per_minute"`
}

// TwilioConfig holds credentials for the WhatsApp inbound webhook.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" mapstructure:"account_sid"`
	AuthToken  string `yaml:"auth_token" mapstructure:"auth_token"`
}

// WorkerConfig configures the job queue worker pool.
type WorkerConfig struct {
	DocumentConcurrency int `yaml:"document_concurrency" mapstructure:"document_concurrency"`
	EmailConcurrency    int `yaml:"email_concurrency" mapstructure:"email_concurrency"`
	MaxRetries          int `yaml:"max_retries" mapstructure:"max_retries"`
	ProcessTimeoutSecs  int `yaml:"process_timeout_secs" mapstructure:"process_timeout_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port            int `yaml:"port" mapstructure:"port"`
	UploadPerMinute int `yaml:"upload_per_minute" mapstructure:"upload_per_minute"`
	MaxUploadFiles  int `yaml:"max_upload_files" mapstructure:"max_upload_files"`
}

// CryptoConfig holds the symmetric key for OAuth token encryption.
type CryptoConfig struct {
	// KeyHex is a 32-byte AES-256 key encoded as 64 hex characters.
	KeyHex string `yaml:"key_hex" mapstructure:"key_hex"`
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
	v.SetEnvPrefix("BOOKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("storage.dir", "storage")
	v.SetDefault("storage.max_file_size_bytes", 20*1024*1024)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.call_timeout_secs", 90)
	v.SetDefault("ocr.languages", "eng+heb")
	v.SetDefault("ocr.short_text_threshold", 40)
	v.SetDefault("ocr.max_image_width", 1600)
	v.SetDefault("gmail.page_size", 50)
	v.SetDefault("gmail.pages_per_minute", 10)
	v.SetDefault("worker.document_concurrency", 5)
	v.SetDefault("worker.email_concurrency", 2)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.process_timeout_secs", 300)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upload_per_minute", 30)
	v.SetDefault("server.max_upload_files", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
