package today

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
	"github.com/uma-arai/sbcntr-pethotel/internal/repository"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/lifecycle"
)

// Source は指定日の予約を取得します
type Source interface {
	GetByDate(ctx context.Context, date string) ([]model.Reservation, error)
}

// Subscriber はリアルタイムの変更を購読します
type Subscriber interface {
	Subscribe(ctx context.Context, callback func(lifecycle.Change)) (repository.Subscription, error)
}

// Group はサービスごとの当日予約です
type Group struct {
	Service model.Service              `json:"service"`
	Label   string                     `json:"label"`
	Items   []model.DisplayReservation `json:"items"`
}

// Option は Aggregator の設定です
type Option func(*Aggregator)

// WithOrder はサービスの並び順を変更します
func WithOrder(services ...model.Service) Option {
	return func(a *Aggregator) {
		a.order = services
	}
}

// WithClock は現在時刻の取得方法を差し替えます
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// Aggregator はモバイル管理画面向けに当日の予約を保持します。
// 日付は固定オフセットのタイムゾーンで判定し、キャンセル済みは含めません
type Aggregator struct {
	source Source
	syncer Subscriber
	loc    *time.Location
	order  []model.Service
	now    func() time.Time

	mu      sync.RWMutex
	enabled bool
	date    string
	items   []model.DisplayReservation
	sub     repository.Subscription
}

// New は新しいAggregatorを作成します
func New(source Source, syncer Subscriber, loc *time.Location, opts ...Option) *Aggregator {
	a := &Aggregator{
		source: source,
		syncer: syncer,
		loc:    loc,
		order:  model.Services(),
		now:    time.Now,
		items:  []model.DisplayReservation{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Today は固定オフセットでの今日の日付です
func (a *Aggregator) Today() string {
	return a.now().In(a.loc).Format(model.DateFormat)
}

// SetEnabled は認証済みの管理者が見ているときだけ true にします。
// 有効化すると当日の予約を取得してリアルタイム購読を始めます。
// すでに有効で日付が変わっていれば取り直します
func (a *Aggregator) SetEnabled(ctx context.Context, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !enabled {
		a.disableLocked()
		return nil
	}

	date := a.Today()
	if a.enabled && a.date == date {
		return nil
	}

	// 購読を先に始める。取得中に届いたイベントは mu の解放後に適用される
	if a.sub == nil {
		sub, err := a.syncer.Subscribe(ctx, a.apply)
		if err != nil {
			return fmt.Errorf("failed to subscribe to reservation changes: %w", err)
		}
		a.sub = sub
	}

	reservations, err := a.source.GetByDate(ctx, date)
	if err != nil {
		a.disableLocked()
		return fmt.Errorf("failed to load reservations for %s: %w", date, err)
	}

	items := make([]model.DisplayReservation, 0, len(reservations))
	for _, reservation := range reservations {
		display := reservation.ToDisplay()
		if display.Status.Excluded() || display.EffectiveDate() != date {
			continue
		}
		items = append(items, display)
	}

	a.items = a.dedupe(items)
	a.sortLocked()
	a.date = date
	a.enabled = true

	log.Debug().Str("date", date).Int("count", len(a.items)).Msg("today view loaded")
	return nil
}

// Enabled は有効かを返します
func (a *Aggregator) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Items は当日の予約のコピーを返します
func (a *Aggregator) Items() []model.DisplayReservation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	items := make([]model.DisplayReservation, len(a.items))
	copy(items, a.items)
	return items
}

// Groups はサービスごとにまとめた当日の予約を並び順どおりに返します
func (a *Aggregator) Groups() []Group {
	items := a.Items()

	groups := make([]Group, 0, len(a.order))
	index := make(map[model.Service]int, len(a.order))
	for _, service := range a.order {
		index[service] = len(groups)
		groups = append(groups, Group{Service: service, Label: service.Label(), Items: []model.DisplayReservation{}})
	}
	for _, item := range items {
		i, ok := index[item.Service]
		if !ok {
			index[item.Service] = len(groups)
			i = len(groups)
			groups = append(groups, Group{Service: item.Service, Label: item.Service.Label(), Items: []model.DisplayReservation{}})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// apply はリアルタイムの変更を保持中の一覧に反映します。全件の再取得はしません
func (a *Aggregator) apply(change lifecycle.Change) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return
	}

	switch change.Type {
	case model.ChangeDelete:
		a.items = without(a.items, change.ID)
	case model.ChangeInsert, model.ChangeUpdate:
		if change.Data == nil {
			return
		}
		record := *change.Data
		a.items = without(a.items, record.ID)
		if record.Status.Excluded() || record.EffectiveDate() != a.date {
			return
		}
		a.items = append(a.items, record)
		a.sortLocked()
	}
}

func (a *Aggregator) disableLocked() {
	if a.sub != nil {
		a.sub.Unsubscribe()
		a.sub = nil
	}
	a.enabled = false
	a.date = ""
	a.items = []model.DisplayReservation{}
}

func (a *Aggregator) rank(service model.Service) int {
	for i, s := range a.order {
		if s == service {
			return i
		}
	}
	return len(a.order)
}

// sortLocked はサービス順、時刻の昇順で並べます。時刻未定は各サービスの最後です
func (a *Aggregator) sortLocked() {
	sort.SliceStable(a.items, func(i, j int) bool {
		x, y := a.items[i], a.items[j]
		if rx, ry := a.rank(x.Service), a.rank(y.Service); rx != ry {
			return rx < ry
		}
		if x.HasTime() != y.HasTime() {
			return x.HasTime()
		}
		if x.Time != y.Time {
			return x.Time < y.Time
		}
		return x.ID < y.ID
	})
}

func (a *Aggregator) dedupe(items []model.DisplayReservation) []model.DisplayReservation {
	seen := make(map[string]int, len(items))
	out := make([]model.DisplayReservation, 0, len(items))
	for _, item := range items {
		if i, ok := seen[item.ID]; ok {
			out[i] = item
			continue
		}
		seen[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}

func without(items []model.DisplayReservation, id string) []model.DisplayReservation {
	kept := items[:0]
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	return kept
}
