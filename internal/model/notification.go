package model

import (
	"fmt"
	"strings"
	"time"
)

// NotificationStatus は SMS 送信結果の種類を表します
type NotificationStatus string

const (
	// NotificationStatusSent は送信に成功したことを表します
	NotificationStatusSent NotificationStatus = "sent"
	// NotificationStatusFailed は送信に失敗したことを表します
	NotificationStatusFailed NotificationStatus = "failed"
)

// NotificationRecord は SMS 送信履歴のドメインモデルです
// データベースに永続化される通知レコードと一致しています
type NotificationRecord struct {
	ID            int                `db:"id" json:"id"`
	ReservationID string             `db:"reservation_id" json:"reservationId"`
	Phone         string             `db:"phone" json:"phone"`
	Message       string             `db:"message" json:"message"`
	Status        NotificationStatus `db:"status" json:"status"`
	Error         string             `db:"error" json:"error,omitempty"`
	MessageID     string             `db:"message_id" json:"messageId,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"createdAt"`
}

// NewNotificationRecord は送信結果から通知レコードを作成します
func NewNotificationRecord(reservationID, phone, message, messageID string, sendErr error) NotificationRecord {
	record := NotificationRecord{
		ReservationID: reservationID,
		Phone:         phone,
		Message:       message,
		Status:        NotificationStatusSent,
		MessageID:     messageID,
		CreatedAt:     time.Now(),
	}
	if sendErr != nil {
		record.Status = NotificationStatusFailed
		record.Error = sendErr.Error()
	}
	return record
}

// ConfirmationMessage は予約確定 SMS の本文を作成します
func ConfirmationMessage(shopName string, r DisplayReservation) string {
	date, at := r.Date, r.Time
	if r.Service == ServiceHotel {
		date = r.EffectiveDate()
		if r.CheckOut != "" {
			date = fmt.Sprintf("%s ~ %s", date, r.CheckOut)
		}
	}
	if at == "" {
		at = UndeterminedTime
	}

	return fmt.Sprintf(`[%s] %s님, %s의 %s 예약이 확정되었습니다.
날짜: %s
시간: %s
감사합니다.`, shopName, r.OwnerName, r.PetName, r.Service.Label(), date, at)
}

// DigitsOnly は電話番号から ASCII の数字以外を取り除きます。
// 全角数字は半角に直します
func DigitsOnly(phone string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r >= '０' && r <= '９':
			return '0' + (r - '０')
		}
		return -1
	}, phone)
}
