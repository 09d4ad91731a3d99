package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

type DB struct {
	*sqlx.DB
}

// Migrate はテーブルとリアルタイム通知用のトリガーを作成します
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// QueryxContext wraps sqlx.DB.QueryxContext with X-Ray tracing
func (db *DB) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "DB.Queryx")
	if seg == nil {
		return db.DB.QueryxContext(ctx, query, args...)
	}
	defer seg.Close(nil)

	// クエリをメタデータとして追加
	if err := seg.AddMetadata("query", query); err != nil {
		log.Warn().Err(err).Msg("Failed to add query metadata")
	}

	rows, err := db.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	return rows, nil
}

// QueryRowxContext wraps sqlx.DB.QueryRowxContext with X-Ray tracing
func (db *DB) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	ctx, seg := xray.BeginSubsegment(ctx, "DB.QueryRowx")
	if seg == nil {
		return db.DB.QueryRowxContext(ctx, query, args...)
	}
	defer seg.Close(nil)

	if err := seg.AddMetadata("query", query); err != nil {
		log.Warn().Err(err).Msg("Failed to add query metadata")
	}

	return db.DB.QueryRowxContext(ctx, query, args...)
}

// ExecContext wraps sqlx.DB.ExecContext with X-Ray tracing
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "DB.Exec")
	if seg == nil {
		return db.DB.ExecContext(ctx, query, args...)
	}
	defer seg.Close(nil)

	// クエリをメタデータとして追加
	if err := seg.AddMetadata("query", query); err != nil {
		log.Warn().Err(err).Msg("Failed to add query metadata")
	}

	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	return result, nil
}
