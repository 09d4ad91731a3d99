package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
)

// NotificationRepository は SMS 送信履歴の永続化を担当するインターフェースです
type NotificationRepository interface {
	Create(ctx context.Context, record *model.NotificationRecord) error
	GetByReservationID(ctx context.Context, reservationID string) ([]model.NotificationRecord, error)
}

// NotificationRepositoryImpl は通知の永続化を担当します
type NotificationRepositoryImpl struct {
	db *DB
}

// NewNotificationRepository は新しいNotificationRepositoryを作成します
func NewNotificationRepository(db *DB) *NotificationRepositoryImpl {
	return &NotificationRepositoryImpl{
		db: db,
	}
}

// Create は単一の通知レコードを作成します
func (r *NotificationRepositoryImpl) Create(ctx context.Context, record *model.NotificationRecord) error {
	ctx, seg := xray.BeginSubsegment(ctx, "NotificationRepository.Create")
	defer closeSegment(seg, nil)

	query := `
		INSERT INTO notifications (
			reservation_id, phone, message, status, error, message_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING id`

	err := r.db.QueryRowxContext(ctx,
		query,
		record.ReservationID,
		record.Phone,
		record.Message,
		record.Status,
		record.Error,
		record.MessageID,
		record.CreatedAt,
	).Scan(&record.ID)

	if err != nil {
		closeSegment(seg, err)
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// GetByReservationID は指定された予約の送信履歴を取得します
func (r *NotificationRepositoryImpl) GetByReservationID(ctx context.Context, reservationID string) ([]model.NotificationRecord, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "NotificationRepository.GetByReservationID")
	defer closeSegment(seg, nil)

	query := `
		SELECT id, reservation_id, phone, message, status, error, message_id, created_at
		FROM notifications
		WHERE reservation_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, reservationID)
	if err != nil {
		closeSegment(seg, err)
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	records := make([]model.NotificationRecord, 0)
	for rows.Next() {
		var record model.NotificationRecord
		if err := rows.StructScan(&record); err != nil {
			closeSegment(seg, err)
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		closeSegment(seg, err)
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return records, nil
}

// MemoryNotificationRepository はプロセス内で送信履歴を保持します。ENV=LOCAL とテストで使います
type MemoryNotificationRepository struct {
	mu      sync.Mutex
	records []model.NotificationRecord
}

// NewMemoryNotificationRepository は空のMemoryNotificationRepositoryを作成します
func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{}
}

// Create は通知レコードを追加し、連番のIDを設定します
func (r *MemoryNotificationRepository) Create(ctx context.Context, record *model.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record.ID = len(r.records) + 1
	r.records = append(r.records, *record)
	return nil
}

// GetByReservationID は指定された予約の送信履歴を新しい順に返します
func (r *MemoryNotificationRepository) GetByReservationID(ctx context.Context, reservationID string) ([]model.NotificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]model.NotificationRecord, 0)
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].ReservationID == reservationID {
			records = append(records, r.records[i])
		}
	}
	return records, nil
}
