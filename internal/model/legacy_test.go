package model

import (
	"testing"
	"time"
)

func strptr(s string) *string { return &s }

func TestToDisplay(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name   string
		record Reservation
		want   DisplayReservation
	}{
		{
			name: "미용予約のフィールド名を変換",
			record: Reservation{
				ID:              "r1",
				Service:         ServiceGrooming,
				PetName:         "초코",
				OwnerName:       "김민수",
				Phone:           "010-1234-5678",
				ReservationDate: strptr("2024-12-25"),
				ReservationTime: strptr("14:00"),
				Style:           strptr("가위컷"),
				Status:          StatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			},
			want: DisplayReservation{
				ID:        "r1",
				Service:   ServiceGrooming,
				PetName:   "초코",
				OwnerName: "김민수",
				Phone:     "010-1234-5678",
				Date:      "2024-12-25",
				Time:      "14:00",
				Style:     "가위컷",
				Status:    StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			},
		},
		{
			name: "時刻がない場合は未定",
			record: Reservation{
				ID:              "r2",
				Service:         ServiceDaycare,
				ReservationDate: strptr("2024-12-25"),
				Status:          StatusConfirmed,
			},
			want: DisplayReservation{
				ID:      "r2",
				Service: ServiceDaycare,
				Date:    "2024-12-25",
				Time:    UndeterminedTime,
				Status:  StatusConfirmed,
			},
		},
		{
			name: "ホテルのチェックインがない場合は予約日を使う",
			record: Reservation{
				ID:              "r3",
				Service:         ServiceHotel,
				ReservationDate: strptr("2024-12-24"),
				CheckOut:        strptr("2024-12-26"),
				RoomType:        strptr("디럭스"),
				Status:          StatusPending,
			},
			want: DisplayReservation{
				ID:       "r3",
				Service:  ServiceHotel,
				Date:     "2024-12-24",
				Time:     UndeterminedTime,
				CheckIn:  "2024-12-24",
				CheckOut: "2024-12-26",
				RoomType: "디럭스",
				Status:   StatusPending,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.record.ToDisplay()
			if got != tt.want {
				t.Errorf("ToDisplay() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestToStorageRoundTrip(t *testing.T) {
	records := []Reservation{
		{
			ID:              "r1",
			Service:         ServiceHotel,
			PetName:         "보리",
			OwnerName:       "이지은",
			Phone:           "010-9876-5432",
			ReservationDate: strptr("2024-12-24"),
			ReservationTime: strptr("11:00"),
			CheckIn:         strptr("2024-12-24"),
			CheckOut:        strptr("2024-12-26"),
			RoomType:        strptr("스위트"),
			Style:           strptr("목욕"),
			SpecialNotes:    strptr("알러지 있음"),
			Status:          StatusConfirmed,
		},
		{
			ID:              "r2",
			Service:         ServiceGrooming,
			PetName:         "초코",
			OwnerName:       "김민수",
			Phone:           "01012345678",
			ReservationDate: strptr("2024-12-25"),
			Status:          StatusPending,
		},
	}

	for _, record := range records {
		t.Run(record.ID, func(t *testing.T) {
			first := record.ToDisplay()

			restored := Reservation{ID: record.ID}
			first.ToStorage().ApplyTo(&restored)
			second := restored.ToDisplay()

			if second != first {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", second, first)
			}
		})
	}
}

func TestToStorageDropsEmptyFields(t *testing.T) {
	patch := DisplayReservation{
		Service: ServiceDaycare,
		Date:    "2024-12-25",
		Time:    UndeterminedTime,
		Status:  StatusCancelled,
	}.ToStorage()

	if patch.ReservationTime != nil {
		t.Errorf("ReservationTime = %v, want nil", *patch.ReservationTime)
	}
	if patch.PetName != nil || patch.RoomType != nil || patch.CheckIn != nil {
		t.Error("empty display fields should not be part of the patch")
	}
	if patch.Status == nil || *patch.Status != StatusCancelled {
		t.Errorf("Status = %v, want %v", patch.Status, StatusCancelled)
	}
	if patch.ReservationDate == nil || *patch.ReservationDate != "2024-12-25" {
		t.Errorf("ReservationDate = %v, want 2024-12-25", patch.ReservationDate)
	}
}

func TestEffectiveDate(t *testing.T) {
	hotel := DisplayReservation{Service: ServiceHotel, Date: "2024-12-24", CheckIn: "2024-12-25"}
	if got := hotel.EffectiveDate(); got != "2024-12-25" {
		t.Errorf("hotel EffectiveDate() = %v, want 2024-12-25", got)
	}

	grooming := DisplayReservation{Service: ServiceGrooming, Date: "2024-12-24", CheckIn: "2024-12-25"}
	if got := grooming.EffectiveDate(); got != "2024-12-24" {
		t.Errorf("grooming EffectiveDate() = %v, want 2024-12-24", got)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status   Status
		valid    bool
		excluded bool
		label    string
	}{
		{StatusPending, true, false, "대기"},
		{StatusConfirmed, true, false, "확정"},
		{StatusCompleted, true, false, "완료"},
		{StatusCancelled, true, true, "취소"},
		{StatusDeleted, false, true, "deleted"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.status.Excluded(); got != tt.excluded {
				t.Errorf("Excluded() = %v, want %v", got, tt.excluded)
			}
			if got := tt.status.Label(); got != tt.label {
				t.Errorf("Label() = %v, want %v", got, tt.label)
			}
		})
	}
}

func TestReservationPatchIsEmpty(t *testing.T) {
	if !(ReservationPatch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
	s := StatusConfirmed
	if (ReservationPatch{Status: &s}).IsEmpty() {
		t.Error("patch with status should not be empty")
	}
}
