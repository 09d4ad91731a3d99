package today

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/uma-arai/sbcntr-pethotel/internal/mirror"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
	"github.com/uma-arai/sbcntr-pethotel/internal/repository"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/lifecycle"
)

type noopSignal struct{}

func (noopSignal) Publish() {}
func (noopSignal) Notify()  {}

type failingSource struct{}

func (failingSource) GetByDate(ctx context.Context, date string) ([]model.Reservation, error) {
	return nil, errors.New("connection reset")
}

var kst = time.FixedZone("KST", 9*60*60)

// 2024-12-25 00:30 KST は UTC では前日
var clock = func() time.Time { return time.Date(2024, 12, 24, 15, 30, 0, 0, time.UTC) }

func strptr(s string) *string { return &s }

type seed struct {
	key     string
	service model.Service
	date    string
	time    string
	status  model.Status
}

func setup(t *testing.T, seeds []seed) (*repository.MemoryReservationRepository, *lifecycle.Syncer, map[string]string) {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemoryReservationRepository()

	ids := make(map[string]string, len(seeds))
	for _, s := range seeds {
		service, status := s.service, s.status
		patch := model.ReservationPatch{Service: &service, Status: &status, PetName: strptr(s.key)}
		if service == model.ServiceHotel {
			patch.CheckIn = strptr(s.date)
		} else {
			patch.ReservationDate = strptr(s.date)
		}
		if s.time != "" {
			patch.ReservationTime = strptr(s.time)
		}
		created, err := repo.Create(ctx, patch)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids[s.key] = created.ID
	}

	syncer := lifecycle.NewSyncer(repo, mirror.New(mirror.NewMemoryStore()), noopSignal{})
	return repo, syncer, ids
}

func petNames(items []model.DisplayReservation) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.PetName)
	}
	return names
}

func TestAggregator_TodayFilter(t *testing.T) {
	ctx := context.Background()
	repo, syncer, _ := setup(t, []seed{
		{key: "yesterday", service: model.ServiceGrooming, date: "2024-12-24", time: "10:00", status: model.StatusPending},
		{key: "tomorrow", service: model.ServiceGrooming, date: "2024-12-26", time: "10:00", status: model.StatusPending},
		{key: "cancelled", service: model.ServiceGrooming, date: "2024-12-25", time: "09:00", status: model.StatusCancelled},
		{key: "daycare", service: model.ServiceDaycare, date: "2024-12-25", time: "08:00", status: model.StatusConfirmed},
		{key: "grooming-untimed", service: model.ServiceGrooming, date: "2024-12-25", status: model.StatusPending},
		{key: "grooming-15", service: model.ServiceGrooming, date: "2024-12-25", time: "15:00", status: model.StatusConfirmed},
		{key: "grooming-11", service: model.ServiceGrooming, date: "2024-12-25", time: "11:00", status: model.StatusPending},
		{key: "hotel", service: model.ServiceHotel, date: "2024-12-25", time: "18:00", status: model.StatusConfirmed},
	})

	a := New(repo, syncer, kst, WithClock(clock))
	if got := a.Today(); got != "2024-12-25" {
		t.Fatalf("Today() = %s, want 2024-12-25", got)
	}
	if err := a.SetEnabled(ctx, true); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}

	want := []string{"hotel", "grooming-11", "grooming-15", "grooming-untimed", "daycare"}
	if got := petNames(a.Items()); !reflect.DeepEqual(got, want) {
		t.Errorf("Items() = %v, want %v", got, want)
	}

	groups := a.Groups()
	if len(groups) != 3 {
		t.Fatalf("Groups() = %d groups, want 3", len(groups))
	}
	if groups[1].Service != model.ServiceGrooming || len(groups[1].Items) != 3 || groups[1].Label != "미용" {
		t.Errorf("grooming group = %+v", groups[1])
	}
}

func TestAggregator_CustomOrder(t *testing.T) {
	ctx := context.Background()
	repo, syncer, _ := setup(t, []seed{
		{key: "hotel", service: model.ServiceHotel, date: "2024-12-25", status: model.StatusPending},
		{key: "daycare", service: model.ServiceDaycare, date: "2024-12-25", status: model.StatusPending},
	})

	a := New(repo, syncer, kst, WithClock(clock), WithOrder(model.ServiceDaycare, model.ServiceGrooming, model.ServiceHotel))
	if err := a.SetEnabled(ctx, true); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if got := petNames(a.Items()); !reflect.DeepEqual(got, []string{"daycare", "hotel"}) {
		t.Errorf("Items() = %v", got)
	}
}

func TestAggregator_IncrementalUpdates(t *testing.T) {
	ctx := context.Background()
	repo, syncer, ids := setup(t, []seed{
		{key: "a", service: model.ServiceGrooming, date: "2024-12-25", time: "10:00", status: model.StatusPending},
		{key: "b", service: model.ServiceGrooming, date: "2024-12-25", time: "11:00", status: model.StatusPending},
	})

	a := New(repo, syncer, kst, WithClock(clock))
	if err := a.SetEnabled(ctx, true); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}

	// 更新は ID で置き換え、重複しない
	confirmed := model.StatusConfirmed
	if _, err := repo.Update(ctx, ids["a"], model.ReservationPatch{Status: &confirmed}); err != nil {
		t.Fatal(err)
	}
	items := a.Items()
	if got := petNames(items); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Items() = %v after update", got)
	}
	if items[0].Status != model.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", items[0].Status)
	}

	// 別の日付に移ると消える
	if _, err := repo.Update(ctx, ids["b"], model.ReservationPatch{ReservationDate: strptr("2024-12-30")}); err != nil {
		t.Fatal(err)
	}
	if got := petNames(a.Items()); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Items() = %v after date change", got)
	}

	// 今日の新規予約は挿入される
	daycare := model.ServiceDaycare
	created, err := repo.Create(ctx, model.ReservationPatch{Service: &daycare, PetName: strptr("c"), ReservationDate: strptr("2024-12-25")})
	if err != nil {
		t.Fatal(err)
	}
	if got := petNames(a.Items()); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Items() = %v after insert", got)
	}

	// キャンセルは消える
	cancelled := model.StatusCancelled
	if _, err := repo.Update(ctx, created.ID, model.ReservationPatch{Status: &cancelled}); err != nil {
		t.Fatal(err)
	}
	if got := petNames(a.Items()); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Items() = %v after cancel", got)
	}

	if err := repo.Remove(ctx, ids["a"]); err != nil {
		t.Fatal(err)
	}
	if got := a.Items(); len(got) != 0 {
		t.Errorf("Items() = %v after delete", petNames(got))
	}
}

func TestAggregator_Disable(t *testing.T) {
	ctx := context.Background()
	repo, syncer, _ := setup(t, []seed{
		{key: "a", service: model.ServiceGrooming, date: "2024-12-25", time: "10:00", status: model.StatusPending},
	})

	a := New(repo, syncer, kst, WithClock(clock))
	// 有効化前は空
	if len(a.Items()) != 0 || a.Enabled() {
		t.Fatal("aggregator must start disabled and empty")
	}

	if err := a.SetEnabled(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := a.SetEnabled(ctx, true); err != nil {
		t.Fatalf("second SetEnabled() error = %v", err)
	}
	if err := a.SetEnabled(ctx, false); err != nil {
		t.Fatal(err)
	}
	if len(a.Items()) != 0 {
		t.Error("Items() not cleared on disable")
	}

	// 無効化後のイベントは反映しない
	grooming := model.ServiceGrooming
	if _, err := repo.Create(ctx, model.ReservationPatch{Service: &grooming, ReservationDate: strptr("2024-12-25")}); err != nil {
		t.Fatal(err)
	}
	if len(a.Items()) != 0 {
		t.Error("event applied after disable")
	}
}

func TestAggregator_LoadFailure(t *testing.T) {
	_, syncer, _ := setup(t, nil)
	a := New(failingSource{}, syncer, kst, WithClock(clock))

	if err := a.SetEnabled(context.Background(), true); err == nil {
		t.Fatal("SetEnabled() should fail when loading fails")
	}
	if a.Enabled() {
		t.Error("aggregator enabled after load failure")
	}
}
