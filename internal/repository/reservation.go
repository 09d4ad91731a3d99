package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
)

// ErrNotFound は指定したIDの予約が存在しないことを表します
var ErrNotFound = errors.New("reservation not found")

// ReservationRepository は予約ストアへのゲートウェイです
type ReservationRepository interface {
	GetAll(ctx context.Context) ([]model.Reservation, error)
	GetByID(ctx context.Context, id string) (*model.Reservation, error)
	GetByDate(ctx context.Context, date string) ([]model.Reservation, error)
	Create(ctx context.Context, patch model.ReservationPatch) (*model.Reservation, error)
	Update(ctx context.Context, id string, patch model.ReservationPatch) (*model.Reservation, error)
	Remove(ctx context.Context, id string) error
	RemoveMany(ctx context.Context, ids []string) error
	Subscribe(ctx context.Context, callback func(model.ChangeEvent)) (Subscription, error)
}

// Subscription はリアルタイム購読のハンドルです
type Subscription interface {
	Unsubscribe()
}

const reservationColumns = `
	id,
	service,
	pet_name,
	owner_name,
	phone,
	reservation_date,
	reservation_time,
	check_in,
	check_out,
	room_type,
	style,
	special_notes,
	status,
	created_at,
	updated_at`

type ReservationRepositoryImpl struct {
	db      *DB
	dsn     string
	channel string
}

// NewReservationRepository は新しいReservationRepositoryを作成します。
// dsn はリアルタイム購読のリスナー接続に使います
func NewReservationRepository(db *DB, dsn string) *ReservationRepositoryImpl {
	return &ReservationRepositoryImpl{db: db, dsn: dsn, channel: NotifyChannel}
}

// GetAll はすべての予約を取得します
func (r *ReservationRepositoryImpl) GetAll(ctx context.Context) ([]model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.GetAll")
	defer closeSegment(seg, nil)

	query := `SELECT ` + reservationColumns + `
		FROM reservations
		ORDER BY created_at DESC`

	reservations, err := r.selectReservations(ctx, query)
	if err != nil {
		closeSegment(seg, err)
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	return reservations, nil
}

// GetByDate は指定日の予約を取得します。ホテルはチェックイン日で判定します
func (r *ReservationRepositoryImpl) GetByDate(ctx context.Context, date string) ([]model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.GetByDate")
	defer closeSegment(seg, nil)

	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE (service = 'hotel' AND COALESCE(check_in, reservation_date) = $1)
		   OR (service <> 'hotel' AND reservation_date = $1)
		ORDER BY reservation_time ASC NULLS LAST`

	reservations, err := r.selectReservations(ctx, query, date)
	if err != nil {
		closeSegment(seg, err)
		return nil, fmt.Errorf("failed to query reservations for %s: %w", date, err)
	}
	return reservations, nil
}

// GetByID は予約を1件取得します。存在しない場合は ErrNotFound を返します
func (r *ReservationRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.GetByID")
	defer closeSegment(seg, nil)

	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE id = $1`

	var reservation model.Reservation
	err := r.db.QueryRowxContext(ctx, query, id).StructScan(&reservation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		closeSegment(seg, err)
		return nil, fmt.Errorf("failed to get reservation %s: %w", id, err)
	}
	return &reservation, nil
}

func (r *ReservationRepositoryImpl) selectReservations(ctx context.Context, query string, args ...interface{}) ([]model.Reservation, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reservations := make([]model.Reservation, 0)
	for rows.Next() {
		var reservation model.Reservation
		if err := rows.StructScan(&reservation); err != nil {
			return nil, fmt.Errorf("failed to scan reservation row: %w", err)
		}
		reservations = append(reservations, reservation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservation rows: %w", err)
	}
	return reservations, nil
}

// Create は予約を作成します。ステータスの指定がなければ pending になります
func (r *ReservationRepositoryImpl) Create(ctx context.Context, patch model.ReservationPatch) (*model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.Create")
	defer closeSegment(seg, nil)

	reservation := newReservation(patch, time.Now())

	query := `
		INSERT INTO reservations (` + reservationColumns + `
		) VALUES (
			:id,
			:service,
			:pet_name,
			:owner_name,
			:phone,
			:reservation_date,
			:reservation_time,
			:check_in,
			:check_out,
			:room_type,
			:style,
			:special_notes,
			:status,
			:created_at,
			:updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, reservation); err != nil {
		closeSegment(seg, err)
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}
	return &reservation, nil
}

// Update は予約を部分更新し、更新後のレコードを返します
func (r *ReservationRepositoryImpl) Update(ctx context.Context, id string, patch model.ReservationPatch) (*model.Reservation, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.Update")
	defer closeSegment(seg, nil)

	query, args := buildUpdateQuery(id, patch, time.Now())

	var reservation model.Reservation
	err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&reservation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		closeSegment(seg, err)
		return nil, fmt.Errorf("failed to update reservation: %w", err)
	}
	return &reservation, nil
}

// Remove は予約を物理削除します
func (r *ReservationRepositoryImpl) Remove(ctx context.Context, id string) error {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.Remove")
	defer closeSegment(seg, nil)

	if _, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = $1`, id); err != nil {
		closeSegment(seg, err)
		return fmt.Errorf("failed to delete reservation: %w", err)
	}
	return nil
}

// RemoveMany は複数の予約を1回のクエリで削除します
func (r *ReservationRepositoryImpl) RemoveMany(ctx context.Context, ids []string) error {
	ctx, seg := xray.BeginSubsegment(ctx, "ReservationRepository.RemoveMany")
	defer closeSegment(seg, nil)

	if len(ids) == 0 {
		return nil
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		closeSegment(seg, err)
		return fmt.Errorf("failed to delete reservations: %w", err)
	}
	return nil
}

// buildUpdateQuery は nil でないフィールドだけを更新する UPDATE 文を組み立てます
func buildUpdateQuery(id string, patch model.ReservationPatch, now time.Time) (string, []interface{}) {
	sets := make([]string, 0, 13)
	args := make([]interface{}, 0, 14)

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Service != nil {
		add("service", string(*patch.Service))
	}
	if patch.PetName != nil {
		add("pet_name", *patch.PetName)
	}
	if patch.OwnerName != nil {
		add("owner_name", *patch.OwnerName)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.ReservationDate != nil {
		add("reservation_date", *patch.ReservationDate)
	}
	if patch.ReservationTime != nil {
		add("reservation_time", *patch.ReservationTime)
	}
	if patch.CheckIn != nil {
		add("check_in", *patch.CheckIn)
	}
	if patch.CheckOut != nil {
		add("check_out", *patch.CheckOut)
	}
	if patch.RoomType != nil {
		add("room_type", *patch.RoomType)
	}
	if patch.Style != nil {
		add("style", *patch.Style)
	}
	if patch.SpecialNotes != nil {
		add("special_notes", *patch.SpecialNotes)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	add("updated_at", now)

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE reservations
		SET %s
		WHERE id = $%d
		RETURNING %s`, strings.Join(sets, ", "), len(args), reservationColumns)

	return query, args
}

// newReservation はパッチから新規レコードを作成します
func newReservation(patch model.ReservationPatch, now time.Time) model.Reservation {
	reservation := model.Reservation{
		ID:        uuid.NewString(),
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	patch.ApplyTo(&reservation)
	return reservation
}

func closeSegment(seg *xray.Segment, err error) {
	if seg == nil {
		return
	}
	seg.Close(err)
}
