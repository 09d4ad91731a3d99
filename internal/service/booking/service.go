package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/tracing"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
	"github.com/uma-arai/sbcntr-pethotel/internal/repository"
)

// ErrInvalidRequest は入力値が不正であることを表します
var ErrInvalidRequest = errors.New("invalid reservation request")

// Mirror は予約サービスが使うミラーキャッシュの操作です
type Mirror interface {
	Reconcile(ctx context.Context, record model.DisplayReservation) error
	ReadAll(ctx context.Context) []model.DisplayReservation
	ReadByService(ctx context.Context, service model.Service) []model.DisplayReservation
}

// Signal は変更シグナルの配信先です
type Signal interface {
	Publish()
}

// SubmitRequest は顧客からの予約申込です
type SubmitRequest struct {
	Service      model.Service `json:"service" validate:"required,oneof=hotel grooming daycare"`
	PetName      string        `json:"petName" validate:"required,max=64"`
	OwnerName    string        `json:"ownerName" validate:"required,max=64"`
	Phone        string        `json:"phone" validate:"required,max=32"`
	Date         string        `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time         string        `json:"time" validate:"omitempty,datetime=15:04"`
	CheckIn      string        `json:"checkIn" validate:"omitempty,datetime=2006-01-02"`
	CheckOut     string        `json:"checkOut" validate:"omitempty,datetime=2006-01-02"`
	RoomType     string        `json:"roomType" validate:"max=64"`
	Style        string        `json:"style" validate:"max=64"`
	SpecialNotes string        `json:"specialNotes" validate:"max=1000"`
}

// updateFields は部分更新で受け付ける文字列項目の上限です。申込と同じ上限を使います
type updateFields struct {
	PetName      string `validate:"max=64"`
	OwnerName    string `validate:"max=64"`
	Phone        string `validate:"max=32"`
	RoomType     string `validate:"max=64"`
	Style        string `validate:"max=64"`
	SpecialNotes string `validate:"max=1000"`
}

// Service は予約の照会と作成を外部の呼び出し元(チャットボットなど)に提供します
type Service struct {
	repo     repository.ReservationRepository
	cache    Mirror
	signal   Signal
	validate *validator.Validate
}

// NewService は新しいServiceを作成します
func NewService(repo repository.ReservationRepository, cache Mirror, signal Signal) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		signal:   signal,
		validate: validator.New(),
	}
}

// Submit は予約申込を検証し、保留状態の予約として作成します
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (_ *model.DisplayReservation, err error) {
	ctx, done := tracing.Begin(ctx, "BookingService.Submit")
	defer func() { done(err) }()

	if err := s.validateSubmit(req); err != nil {
		return nil, err
	}

	patch := model.DisplayReservation{
		Service:      req.Service,
		PetName:      req.PetName,
		OwnerName:    req.OwnerName,
		Phone:        req.Phone,
		Date:         req.Date,
		Time:         req.Time,
		CheckIn:      req.CheckIn,
		CheckOut:     req.CheckOut,
		RoomType:     req.RoomType,
		Style:        req.Style,
		SpecialNotes: req.SpecialNotes,
		Status:       model.StatusPending,
	}.ToStorage()

	created, err := s.repo.Create(ctx, patch)
	if err != nil {
		log.Error().Err(err).Str("service", string(req.Service)).Msg("failed to create reservation")
		return nil, fmt.Errorf("failed to submit reservation: %w", err)
	}

	display := created.ToDisplay()
	s.writeThrough(ctx, display)

	log.Info().
		Str("reservation_id", display.ID).
		Str("service", string(display.Service)).
		Msg("reservation submitted")
	return &display, nil
}

// Update は管理画面からの部分更新です。空の項目は変更せず、項目を空に戻すこともできません。
// サービスは作成後に変更できません
func (s *Service) Update(ctx context.Context, id string, record model.DisplayReservation) (_ *model.DisplayReservation, err error) {
	ctx, done := tracing.Begin(ctx, "BookingService.Update")
	defer func() { done(err) }()

	if record.Service != "" && !record.Service.Valid() {
		return nil, fmt.Errorf("%w: unknown service %q", ErrInvalidRequest, record.Service)
	}
	if record.Status != "" && !record.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrInvalidRequest, record.Status)
	}
	for _, date := range []string{record.Date, record.CheckIn, record.CheckOut} {
		if date != "" && !isDate(date) {
			return nil, fmt.Errorf("%w: invalid date %q", ErrInvalidRequest, date)
		}
	}
	if record.HasTime() && !isTime(record.Time) {
		return nil, fmt.Errorf("%w: invalid time %q", ErrInvalidRequest, record.Time)
	}
	if err := s.validate.Struct(updateFields{
		PetName:      record.PetName,
		OwnerName:    record.OwnerName,
		Phone:        record.Phone,
		RoomType:     record.RoomType,
		Style:        record.Style,
		SpecialNotes: record.SpecialNotes,
	}); err != nil {
		return nil, invalidRequest(err)
	}

	patch := record.ToStorage()
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}

	if record.Service != "" {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load reservation %s: %w", id, err)
		}
		if current.Service != record.Service {
			return nil, fmt.Errorf("%w: service cannot be changed from %s to %s", ErrInvalidRequest, current.Service, record.Service)
		}
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		log.Error().Err(err).Str("reservation_id", id).Msg("failed to update reservation")
		return nil, fmt.Errorf("failed to update reservation %s: %w", id, err)
	}

	display := updated.ToDisplay()
	s.writeThrough(ctx, display)
	return &display, nil
}

// List はすべての予約を返します
func (s *Service) List(ctx context.Context) ([]model.DisplayReservation, error) {
	reservations, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return toDisplay(reservations), nil
}

// ListByDate は指定日の予約を返します
func (s *Service) ListByDate(ctx context.Context, date string) ([]model.DisplayReservation, error) {
	if !isDate(date) {
		return nil, fmt.Errorf("%w: invalid date %q", ErrInvalidRequest, date)
	}

	reservations, err := s.repo.GetByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations for %s: %w", date, err)
	}
	return toDisplay(reservations), nil
}

// Calendar はミラーキャッシュからカレンダー表示用の予約を返します。
// service が空の場合はすべてのサービスです
func (s *Service) Calendar(ctx context.Context, service model.Service) ([]model.DisplayReservation, error) {
	var records []model.DisplayReservation
	switch {
	case service == "":
		records = s.cache.ReadAll(ctx)
	case service.Valid():
		records = s.cache.ReadByService(ctx, service)
	default:
		return nil, fmt.Errorf("%w: unknown service %q", ErrInvalidRequest, service)
	}

	sort.SliceStable(records, func(i, j int) bool {
		x, y := records[i], records[j]
		if x.EffectiveDate() != y.EffectiveDate() {
			return x.EffectiveDate() < y.EffectiveDate()
		}
		if x.HasTime() != y.HasTime() {
			return x.HasTime()
		}
		if x.Time != y.Time {
			return x.Time < y.Time
		}
		return x.Service.Rank() < y.Service.Rank()
	})
	return records, nil
}

func (s *Service) validateSubmit(req SubmitRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return invalidRequest(err)
	}

	if req.Service == model.ServiceHotel {
		if req.CheckIn == "" {
			return fmt.Errorf("%w: checkIn is required for hotel", ErrInvalidRequest)
		}
		if req.CheckOut != "" && req.CheckOut < req.CheckIn {
			return fmt.Errorf("%w: checkOut must not be before checkIn", ErrInvalidRequest)
		}
		return nil
	}
	if req.Date == "" {
		return fmt.Errorf("%w: date is required for %s", ErrInvalidRequest, req.Service)
	}
	return nil
}

// invalidRequest は検証エラーを ErrInvalidRequest に変換します
func invalidRequest(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// writeThrough はキャッシュの失敗を呼び出し元に返しません
func (s *Service) writeThrough(ctx context.Context, display model.DisplayReservation) {
	if err := s.cache.Reconcile(ctx, display); err != nil {
		log.Warn().Err(err).Str("reservation_id", display.ID).Msg("failed to write reservation to mirror cache")
	}
	s.signal.Publish()
}

func toDisplay(reservations []model.Reservation) []model.DisplayReservation {
	out := make([]model.DisplayReservation, 0, len(reservations))
	for _, reservation := range reservations {
		out = append(out, reservation.ToDisplay())
	}
	return out
}

func isDate(s string) bool {
	_, err := time.Parse(model.DateFormat, s)
	return err == nil
}

func isTime(s string) bool {
	_, err := time.Parse(model.TimeFormat, s)
	return err == nil
}
