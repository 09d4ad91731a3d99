package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/database"
)

// Config はアプリケーション全体の設定です
type Config struct {
	Env string `envconfig:"ENV" default:"DEVELOPMENT"`

	DB    database.Config
	Redis RedisConfig
	NATS  NATSConfig
	SMS   SMSConfig
	HTTP  HTTPConfig
	Log   LogConfig

	// Timezone は当日ビューの日付計算に使う固定オフセットです
	Timezone TimezoneConfig

	SFN struct {
		TaskToken string `ignored:"true"`
	}
	EnableTracing bool `ignored:"true"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type NATSConfig struct {
	// URL が空の場合、インスタンス間の変更通知は行いません
	URL     string `envconfig:"NATS_URL"`
	Subject string `envconfig:"NATS_SUBJECT" default:"pethotel.reservations.changed"`
}

type SMSConfig struct {
	ShopName    string `envconfig:"SHOP_NAME" default:"sbcntr pet hotel"`
	CountryCode string `envconfig:"SMS_COUNTRY_CODE" default:"82"`
	SenderID    string `envconfig:"SMS_SENDER_ID"`
	Disabled    bool   `envconfig:"SMS_DISABLED" default:"false"`
}

type HTTPConfig struct {
	Port        string        `envconfig:"PORT" default:"8080"`
	AdminAPIKey string        `envconfig:"ADMIN_API_KEY"`
	CORSOrigins []string      `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownIn  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

type TimezoneConfig struct {
	Name          string `envconfig:"TZ_NAME" default:"KST"`
	OffsetSeconds int    `envconfig:"TZ_OFFSET_SECONDS" default:"32400"`
}

// Location は固定オフセットのタイムゾーンを返します。端末のローカル時刻は使いません
func (t TimezoneConfig) Location() *time.Location {
	return time.FixedZone(t.Name, t.OffsetSeconds)
}

// IsLocal はローカル実行かを判定します
func (c *Config) IsLocal() bool {
	return strings.EqualFold(c.Env, "LOCAL")
}

// LoadConfig は設定を読み込みます
func LoadConfig(taskToken string) (*Config, error) {
	// .env はローカル開発用。存在しなくてもエラーにしない
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not found; continuing with environment variables")
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	cfg.SFN.TaskToken = taskToken

	// 環境変数[SBCNTR_ENABLE_TRACING]を見てトレースを有効にする。対応しているTracingはAWS_XRAYのみ。
	// 環境変数[AWS_XRAY_SDK_DISABLED]がtrueの場合は必ずトレースを無効にする。
	enableKey := os.Getenv("SBCNTR_ENABLE_TRACING")
	if !sdkDisabled() && (strings.ToLower(enableKey) == "true" || enableKey == "1") {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "FALSE")
		cfg.EnableTracing = true
	} else {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
		cfg.EnableTracing = false
	}

	return cfg, nil
}

// Check if SDK is disabled
func sdkDisabled() bool {
	disableKey := os.Getenv("AWS_XRAY_SDK_DISABLED")
	return strings.ToLower(disableKey) == "true"
}
