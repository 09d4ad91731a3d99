package model

import "time"

const (
	// DateFormat は予約日の文字列形式です
	DateFormat = "2006-01-02"
	// TimeFormat は予約時刻の文字列形式です
	TimeFormat = "15:04"
	// UndeterminedTime は時刻未定の予約に表示する値です
	UndeterminedTime = "미정"
)

// Service は予約サービスの種類を表します
type Service string

const (
	ServiceHotel    Service = "hotel"
	ServiceGrooming Service = "grooming"
	ServiceDaycare  Service = "daycare"
)

// Services はサービスをデフォルトの表示順で返します
func Services() []Service {
	return []Service{ServiceHotel, ServiceGrooming, ServiceDaycare}
}

// Valid はサービスが既知の値かを判定します
func (s Service) Valid() bool {
	switch s {
	case ServiceHotel, ServiceGrooming, ServiceDaycare:
		return true
	}
	return false
}

// Rank はデフォルトの並び順を返します。未知のサービスは最後になります
func (s Service) Rank() int {
	switch s {
	case ServiceHotel:
		return 0
	case ServiceGrooming:
		return 1
	case ServiceDaycare:
		return 2
	}
	return 3
}

// Label は SMS や画面に表示するサービス名です
func (s Service) Label() string {
	switch s {
	case ServiceHotel:
		return "호텔"
	case ServiceGrooming:
		return "미용"
	case ServiceDaycare:
		return "데이케어"
	}
	return string(s)
}

// Status は予約のステータスです
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	// StatusDeleted は削除済みを表すクライアント側だけの値で、永続化されません
	StatusDeleted Status = "deleted"
)

// Valid は永続化できるステータスかを判定します
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Excluded はカレンダーや当日ビューから除外されるステータスかを判定します
func (s Status) Excluded() bool {
	return s == StatusCancelled || s == StatusDeleted
}

// Label は管理画面に表示するラベルです
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "대기"
	case StatusConfirmed:
		return "확정"
	case StatusCompleted:
		return "완료"
	case StatusCancelled:
		return "취소"
	}
	return string(s)
}

// Reservation はバックエンドに永続化される予約レコードです
type Reservation struct {
	ID              string    `db:"id" json:"id"`
	Service         Service   `db:"service" json:"service"`
	PetName         string    `db:"pet_name" json:"pet_name"`
	OwnerName       string    `db:"owner_name" json:"owner_name"`
	Phone           string    `db:"phone" json:"phone"`
	ReservationDate *string   `db:"reservation_date" json:"reservation_date"`
	ReservationTime *string   `db:"reservation_time" json:"reservation_time"`
	CheckIn         *string   `db:"check_in" json:"check_in"`
	CheckOut        *string   `db:"check_out" json:"check_out"`
	RoomType        *string   `db:"room_type" json:"room_type"`
	Style           *string   `db:"style" json:"style"`
	SpecialNotes    *string   `db:"special_notes" json:"special_notes"`
	Status          Status    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ReservationPatch は部分更新の内容です。nil のフィールドは変更しません
type ReservationPatch struct {
	Service         *Service
	PetName         *string
	OwnerName       *string
	Phone           *string
	ReservationDate *string
	ReservationTime *string
	CheckIn         *string
	CheckOut        *string
	RoomType        *string
	Style           *string
	SpecialNotes    *string
	Status          *Status
}

// IsEmpty は変更内容がないかを判定します
func (p ReservationPatch) IsEmpty() bool {
	return p == ReservationPatch{}
}

// ApplyTo はパッチの内容を予約レコードへ反映します
func (p ReservationPatch) ApplyTo(r *Reservation) {
	if p.Service != nil {
		r.Service = *p.Service
	}
	if p.PetName != nil {
		r.PetName = *p.PetName
	}
	if p.OwnerName != nil {
		r.OwnerName = *p.OwnerName
	}
	if p.Phone != nil {
		r.Phone = *p.Phone
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	r.ReservationDate = pick(p.ReservationDate, r.ReservationDate)
	r.ReservationTime = pick(p.ReservationTime, r.ReservationTime)
	r.CheckIn = pick(p.CheckIn, r.CheckIn)
	r.CheckOut = pick(p.CheckOut, r.CheckOut)
	r.RoomType = pick(p.RoomType, r.RoomType)
	r.Style = pick(p.Style, r.Style)
	r.SpecialNotes = pick(p.SpecialNotes, r.SpecialNotes)
}

func pick(patch, current *string) *string {
	if patch == nil {
		return current
	}
	v := *patch
	return &v
}

// ChangeType はリアルタイムイベントの種類です
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent はバックエンドから配信される予約の変更イベントです
type ChangeEvent struct {
	EventType ChangeType   `json:"eventType"`
	New       *Reservation `json:"new,omitempty"`
	Old       *Reservation `json:"old,omitempty"`
}
