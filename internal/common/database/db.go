package database

import (
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DB struct {
	*sqlx.DB
	dsn string
}

type Config struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	UserName string `envconfig:"DB_USERNAME" default:"sbcntrapp"`
	Password string `envconfig:"DB_PASSWORD" default:"password"`
	DBName   string `envconfig:"DB_NAME" default:"sbcntrapp"`
	SSLMode  string `envconfig:"DB_SSL_MODE"`
}

// DSN は接続文字列を返します
func (cfg Config) DSN() string {
	// localhostのDBの場合はSSLを無効化
	sslMode := cfg.SSLMode
	if sslMode == "" {
		if cfg.Host == "localhost" {
			sslMode = "disable"
		} else {
			sslMode = "require" // 本番環境ではSSLを有効にする
		}
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.UserName,
		cfg.Password,
		cfg.DBName,
		sslMode,
	)
}

func NewDB(cfg Config) (*DB, error) {
	dsn := cfg.DSN()

	// X-Ray対応のSQLコンテキストを作成
	db, err := xray.SQLContext("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database with X-Ray: %w", err)
	}

	// コネクションプールの設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 接続テスト
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlx.NewDb(db, "postgres"), dsn: dsn}, nil
}

// DSN はリアルタイム購読用のリスナー接続に使う接続文字列です
func (db *DB) DSN() string {
	return db.dsn
}
