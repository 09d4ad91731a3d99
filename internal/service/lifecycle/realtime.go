package lifecycle

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
	"github.com/uma-arai/sbcntr-pethotel/internal/repository"
)

// Change はリアルタイム購読者へ渡す変更内容です。
// DELETE の場合は Data がなく ID だけが入ります
type Change struct {
	Type model.ChangeType          `json:"type"`
	Data *model.DisplayReservation `json:"data,omitempty"`
	ID   string                    `json:"id,omitempty"`
}

// Subscriber は予約ストアのリアルタイム購読です
type Subscriber interface {
	Subscribe(ctx context.Context, callback func(model.ChangeEvent)) (repository.Subscription, error)
}

// Syncer はストアからの変更イベントをミラーキャッシュに反映し、シグナルを送ります。
// 他の管理者のセッションで行われた変更も同じ状態に収束します
type Syncer struct {
	repo   Subscriber
	cache  Mirror
	signal Signal
}

// NewSyncer は新しいSyncerを作成します
func NewSyncer(repo Subscriber, cache Mirror, signal Signal) *Syncer {
	return &Syncer{repo: repo, cache: cache, signal: signal}
}

// Subscribe はストアの変更を購読します。
// イベントは届いた順に処理し、並べ替えやまとめ処理はしません
func (s *Syncer) Subscribe(ctx context.Context, callback func(Change)) (repository.Subscription, error) {
	return s.repo.Subscribe(ctx, func(event model.ChangeEvent) {
		change, ok := s.apply(ctx, event)
		if !ok || callback == nil {
			return
		}
		callback(change)
	})
}

// apply はイベントを1件処理します。
// ストアのイベントは全インスタンスに届くので、シグナルは中継せずローカルだけに送ります
func (s *Syncer) apply(ctx context.Context, event model.ChangeEvent) (Change, bool) {
	switch event.EventType {
	case model.ChangeInsert, model.ChangeUpdate:
		if event.New == nil {
			return Change{}, false
		}
		display := event.New.ToDisplay()
		if err := s.cache.Reconcile(ctx, display); err != nil {
			log.Warn().Err(err).Str("reservation_id", display.ID).Msg("failed to reconcile mirror cache from realtime event")
		}
		s.signal.Notify()
		return Change{Type: event.EventType, Data: &display}, true

	case model.ChangeDelete:
		if event.Old == nil {
			return Change{}, false
		}
		id := event.Old.ID
		if err := s.cache.Remove(ctx, id); err != nil {
			log.Warn().Err(err).Str("reservation_id", id).Msg("failed to remove reservation from mirror cache")
		}
		s.signal.Notify()
		return Change{Type: model.ChangeDelete, ID: id}, true
	}

	log.Warn().Str("event_type", string(event.EventType)).Msg("ignoring unknown change event")
	return Change{}, false
}
