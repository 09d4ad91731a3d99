package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/tracing"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
)

// ErrNoPhone は送信先の電話番号がないことを表します
var ErrNoPhone = errors.New("reservation has no phone number")

// Provider は外部の SMS 送信サービスです
type Provider interface {
	Send(ctx context.Context, phone, text string) (messageID string, err error)
}

// NotificationRecorder は送信履歴の保存先です
type NotificationRecorder interface {
	Create(ctx context.Context, record *model.NotificationRecord) error
}

// Result は送信結果です。Success が false の場合は Err に理由が入ります
type Result struct {
	Success   bool
	MessageID string
	Err       error
}

// Dispatcher は予約確定 SMS を送信します
type Dispatcher struct {
	provider Provider
	recorder NotificationRecorder
	shopName string
}

// NewDispatcher は新しいDispatcherを作成します。recorder は nil でも構いません
func NewDispatcher(provider Provider, recorder NotificationRecorder, shopName string) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		recorder: recorder,
		shopName: shopName,
	}
}

// SendConfirmation は確定メッセージを送信します。
// エラーや panic は呼び出し元へ伝播させず、失敗の Result に変換します
func (d *Dispatcher) SendConfirmation(ctx context.Context, reservation model.DisplayReservation) (result Result) {
	ctx, done := tracing.Begin(ctx, "Dispatcher.SendConfirmation")
	defer func() { done(result.Err) }()

	text := model.ConfirmationMessage(d.shopName, reservation)
	phone := model.DigitsOnly(reservation.Phone)

	defer func() {
		if r := recover(); r != nil {
			result = Result{Err: fmt.Errorf("sms provider panicked: %v", r)}
		}
		d.record(ctx, reservation.ID, phone, text, result)
	}()

	if phone == "" {
		return Result{Err: ErrNoPhone}
	}
	if d.provider == nil {
		return Result{Err: errors.New("sms provider is not configured")}
	}

	messageID, err := d.provider.Send(ctx, phone, text)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to send sms: %w", err)}
	}

	log.Info().
		Str("reservation_id", reservation.ID).
		Str("message_id", messageID).
		Msg("confirmation sms sent")
	return Result{Success: true, MessageID: messageID}
}

func (d *Dispatcher) record(ctx context.Context, reservationID, phone, text string, result Result) {
	if d.recorder == nil {
		return
	}

	record := model.NewNotificationRecord(reservationID, phone, text, result.MessageID, result.Err)
	if err := d.recorder.Create(ctx, &record); err != nil {
		log.Warn().Err(err).Str("reservation_id", reservationID).Msg("failed to record sms notification")
	}
}
