package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/uma-arai/sbcntr-pethotel/internal/model"
)

func strptr(s string) *string { return &s }

func TestBuildUpdateQuery(t *testing.T) {
	now := time.Date(2024, 12, 25, 10, 0, 0, 0, time.UTC)
	confirmed := model.StatusConfirmed

	tests := []struct {
		name     string
		patch    model.ReservationPatch
		wantSets []string
		wantArgs int
	}{
		{
			name:     "ステータスのみ更新",
			patch:    model.ReservationPatch{Status: &confirmed},
			wantSets: []string{"status = $1", "updated_at = $2"},
			wantArgs: 3,
		},
		{
			name: "複数フィールドを更新",
			patch: model.ReservationPatch{
				PetName:         strptr("코코"),
				ReservationDate: strptr("2024-12-25"),
				ReservationTime: strptr("14:00"),
			},
			wantSets: []string{"pet_name = $1", "reservation_date = $2", "reservation_time = $3", "updated_at = $4"},
			wantArgs: 5,
		},
		{
			name:     "空のパッチでも updated_at は更新",
			patch:    model.ReservationPatch{},
			wantSets: []string{"updated_at = $1"},
			wantArgs: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildUpdateQuery("r-1", tt.patch, now)

			for _, set := range tt.wantSets {
				if !strings.Contains(query, set) {
					t.Errorf("query does not contain %q: %s", set, query)
				}
			}
			if len(args) != tt.wantArgs {
				t.Fatalf("len(args) = %d, want %d", len(args), tt.wantArgs)
			}
			if args[len(args)-1] != "r-1" {
				t.Errorf("last arg = %v, want id", args[len(args)-1])
			}
			if !strings.Contains(query, "RETURNING") {
				t.Error("query has no RETURNING clause")
			}
		})
	}
}

func TestDecodeChangeNotice(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    changeNotice
		wantErr bool
	}{
		{
			name:    "INSERT",
			payload: `{"eventType":"INSERT","id":"a"}`,
			want:    changeNotice{EventType: model.ChangeInsert, ID: "a"},
		},
		{
			name:    "DELETE",
			payload: `{"eventType":"DELETE","id":"b"}`,
			want:    changeNotice{EventType: model.ChangeDelete, ID: "b"},
		},
		{
			name:    "IDがない",
			payload: `{"eventType":"UPDATE"}`,
			wantErr: true,
		},
		{
			name:    "未知のイベント",
			payload: `{"eventType":"TRUNCATE","id":"a"}`,
			wantErr: true,
		},
		{
			name:    "不正なJSON",
			payload: `{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notice, err := decodeChangeNotice([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeChangeNotice() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && notice != tt.want {
				t.Errorf("decodeChangeNotice() = %+v, want %+v", notice, tt.want)
			}
		})
	}
}

// 長い特記事項があっても通知は行の内容を含まず、受信側で取り直す
func TestResolveChange(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReservationRepository()

	grooming := model.ServiceGrooming
	notes := strings.Repeat("겁이 많아요. ", 2000)
	created, err := repo.Create(ctx, model.ReservationPatch{Service: &grooming, SpecialNotes: &notes})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		notice  changeNotice
		fetch   func(context.Context, string) (*model.Reservation, error)
		wantOK  bool
		wantErr bool
	}{
		{name: "UPDATE は現在の行を取り直す", notice: changeNotice{EventType: model.ChangeUpdate, ID: created.ID}, fetch: repo.GetByID, wantOK: true},
		{name: "DELETE はIDだけで届く", notice: changeNotice{EventType: model.ChangeDelete, ID: created.ID}, wantOK: true},
		{name: "取り直す前に削除された", notice: changeNotice{EventType: model.ChangeInsert, ID: "gone"}, fetch: repo.GetByID},
		{
			name:   "取得に失敗",
			notice: changeNotice{EventType: model.ChangeUpdate, ID: created.ID},
			fetch: func(context.Context, string) (*model.Reservation, error) {
				return nil, errors.New("connection reset")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, ok, err := resolveChange(ctx, tt.notice, tt.fetch)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveChange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if event.EventType != tt.notice.EventType {
				t.Errorf("EventType = %s, want %s", event.EventType, tt.notice.EventType)
			}
			switch event.EventType {
			case model.ChangeDelete:
				if event.Old == nil || event.Old.ID != created.ID {
					t.Errorf("Old = %+v", event.Old)
				}
			default:
				if event.New == nil || event.New.SpecialNotes == nil || *event.New.SpecialNotes != notes {
					t.Error("New does not carry the current row")
				}
			}
		})
	}
}

func TestSchemaNotifyPayload(t *testing.T) {
	if strings.Contains(schema, "row_to_json") {
		t.Error("trigger must not put whole rows into the notify payload")
	}
}

func TestNewReservation(t *testing.T) {
	now := time.Now()
	grooming := model.ServiceGrooming

	reservation := newReservation(model.ReservationPatch{Service: &grooming, PetName: strptr("보리")}, now)

	if reservation.ID == "" {
		t.Error("ID is empty")
	}
	if reservation.Status != model.StatusPending {
		t.Errorf("Status = %s, want pending", reservation.Status)
	}
	if reservation.PetName != "보리" || reservation.Service != model.ServiceGrooming {
		t.Errorf("patch not applied: %+v", reservation)
	}
	if !reservation.CreatedAt.Equal(now) || !reservation.UpdatedAt.Equal(now) {
		t.Error("timestamps not set")
	}
}

func TestMemoryReservationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryReservationRepository()

	var events []model.ChangeEvent
	sub, err := repo.Subscribe(ctx, func(event model.ChangeEvent) {
		events = append(events, event)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	hotel := model.ServiceHotel
	created, err := repo.Create(ctx, model.ReservationPatch{
		Service:  &hotel,
		PetName:  strptr("코코"),
		CheckIn:  strptr("2024-12-25"),
		CheckOut: strptr("2024-12-27"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	byDate, err := repo.GetByDate(ctx, "2024-12-25")
	if err != nil {
		t.Fatalf("GetByDate() error = %v", err)
	}
	if len(byDate) != 1 || byDate[0].ID != created.ID {
		t.Errorf("GetByDate() = %+v, want the hotel reservation", byDate)
	}

	confirmed := model.StatusConfirmed
	updated, err := repo.Update(ctx, created.ID, model.ReservationPatch{Status: &confirmed})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Status != model.StatusConfirmed {
		t.Errorf("Status = %s, want confirmed", updated.Status)
	}

	if _, err := repo.Update(ctx, "missing", model.ReservationPatch{Status: &confirmed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() of missing id error = %v, want ErrNotFound", err)
	}

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil || got.Status != model.StatusConfirmed {
		t.Errorf("GetByID() = %+v, %v", got, err)
	}
	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() of missing id error = %v, want ErrNotFound", err)
	}

	deleted := model.StatusDeleted
	if _, err := repo.Update(ctx, created.ID, model.ReservationPatch{Status: &deleted}); err == nil {
		t.Error("Update() with deleted status should fail")
	}

	if err := repo.RemoveMany(ctx, []string{created.ID, "missing"}); err != nil {
		t.Fatalf("RemoveMany() error = %v", err)
	}

	all, _ := repo.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("GetAll() = %d records, want 0", len(all))
	}

	want := []model.ChangeType{model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, event := range events {
		if event.EventType != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, event.EventType, want[i])
		}
	}
	if events[2].Old == nil || events[2].Old.ID != created.ID {
		t.Error("DELETE event does not carry the old record")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if _, err := repo.Create(ctx, model.ReservationPatch{Service: &hotel}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(events) != len(want) {
		t.Error("event delivered after Unsubscribe")
	}
}
