package model

import (
	"strings"
	"time"
)

// DisplayReservation は画面とミラーキャッシュで使う旧形式の予約です
type DisplayReservation struct {
	ID           string    `json:"id"`
	Service      Service   `json:"service"`
	PetName      string    `json:"petName"`
	OwnerName    string    `json:"ownerName"`
	Phone        string    `json:"phone"`
	Date         string    `json:"date,omitempty"`
	Time         string    `json:"time"`
	CheckIn      string    `json:"checkIn,omitempty"`
	CheckOut     string    `json:"checkOut,omitempty"`
	RoomType     string    `json:"roomType,omitempty"`
	Style        string    `json:"style,omitempty"`
	SpecialNotes string    `json:"specialNotes,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// EffectiveDate は当日判定に使う日付を返します。
// ホテルはチェックイン日、それ以外は予約日です
func (d DisplayReservation) EffectiveDate() string {
	if d.Service == ServiceHotel && d.CheckIn != "" {
		return d.CheckIn
	}
	return d.Date
}

// HasTime は時刻が決まっているかを判定します
func (d DisplayReservation) HasTime() bool {
	return d.Time != "" && d.Time != UndeterminedTime
}

// ToDisplay は保存形式のレコードを表示形式に変換します
func (r Reservation) ToDisplay() DisplayReservation {
	d := DisplayReservation{
		ID:           r.ID,
		Service:      r.Service,
		PetName:      r.PetName,
		OwnerName:    r.OwnerName,
		Phone:        r.Phone,
		Date:         deref(r.ReservationDate),
		Time:         deref(r.ReservationTime),
		CheckIn:      deref(r.CheckIn),
		CheckOut:     deref(r.CheckOut),
		RoomType:     deref(r.RoomType),
		Style:        deref(r.Style),
		SpecialNotes: deref(r.SpecialNotes),
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}

	if d.Service == ServiceHotel && d.CheckIn == "" {
		d.CheckIn = d.Date
	}
	if d.Time == "" {
		d.Time = UndeterminedTime
	}
	return d
}

// ToStorage は表示形式を保存形式のパッチに変換します。
// 空の値と未定の時刻は含めません
func (d DisplayReservation) ToStorage() ReservationPatch {
	p := ReservationPatch{
		PetName:         ref(d.PetName),
		OwnerName:       ref(d.OwnerName),
		Phone:           ref(d.Phone),
		ReservationDate: ref(d.Date),
		CheckIn:         ref(d.CheckIn),
		CheckOut:        ref(d.CheckOut),
		RoomType:        ref(d.RoomType),
		Style:           ref(d.Style),
		SpecialNotes:    ref(d.SpecialNotes),
	}
	if d.Service != "" {
		s := d.Service
		p.Service = &s
	}
	if d.Status != "" {
		s := d.Status
		p.Status = &s
	}
	if d.HasTime() {
		p.ReservationTime = ref(d.Time)
	}
	return p
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
