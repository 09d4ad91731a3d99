package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
)

// NotifyChannel は予約テーブルのトリガーが pg_notify するチャネル名です
const NotifyChannel = "reservation_changes"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

type listenerSubscription struct {
	listener *pq.Listener
	done     chan struct{}
	once     sync.Once
}

// Unsubscribe は購読を停止します。複数回呼んでも安全です
func (s *listenerSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		if err := s.listener.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close reservation listener")
		}
	})
}

// Subscribe は予約テーブルの INSERT/UPDATE/DELETE を購読します。
// イベントは配信された順に1つのゴルーチンからコールバックへ渡されます
func (r *ReservationRepositoryImpl) Subscribe(ctx context.Context, callback func(model.ChangeEvent)) (Subscription, error) {
	listener := pq.NewListener(r.dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			// 切断中のイベントは失われる。再接続後の次のイベントで収束する
			log.Warn().Err(err).Str("channel", r.channel).Msg("reservation listener disconnected")
		case pq.ListenerEventReconnected:
			log.Info().Str("channel", r.channel).Msg("reservation listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn().Err(err).Str("channel", r.channel).Msg("reservation listener connection attempt failed")
		}
	})

	if err := listener.Listen(r.channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", r.channel, err)
	}

	sub := &listenerSubscription{listener: listener, done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// 再接続時は nil が届く
				if n == nil {
					continue
				}
				notice, err := decodeChangeNotice([]byte(n.Extra))
				if err != nil {
					log.Error().Err(err).Str("payload", n.Extra).Msg("failed to decode reservation change")
					continue
				}
				event, ok, err := resolveChange(ctx, notice, r.GetByID)
				if err != nil {
					log.Error().Err(err).Str("reservation_id", notice.ID).Msg("failed to load changed reservation")
					continue
				}
				if ok {
					callback(event)
				}
			case <-time.After(pingInterval):
				go func() {
					if err := listener.Ping(); err != nil {
						log.Warn().Err(err).Msg("reservation listener ping failed")
					}
				}()
			}
		}
	}()

	return sub, nil
}

// changeNotice はトリガーの通知ペイロードです。行の内容は含みません
type changeNotice struct {
	EventType model.ChangeType `json:"eventType"`
	ID        string           `json:"id"`
}

// decodeChangeNotice はトリガーの通知ペイロードを読み取ります
func decodeChangeNotice(payload []byte) (changeNotice, error) {
	var notice changeNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		return changeNotice{}, fmt.Errorf("invalid change payload: %w", err)
	}

	switch notice.EventType {
	case model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete:
	default:
		return changeNotice{}, fmt.Errorf("unknown event type %q", notice.EventType)
	}
	if notice.ID == "" {
		return changeNotice{}, fmt.Errorf("%s event without id", notice.EventType)
	}
	return notice, nil
}

// resolveChange は通知を変更イベントにします。INSERT/UPDATE は現在の行を取り直します。
// 取り直す前に削除された場合は false を返し、後続の DELETE に任せます
func resolveChange(ctx context.Context, notice changeNotice, fetch func(context.Context, string) (*model.Reservation, error)) (model.ChangeEvent, bool, error) {
	if notice.EventType == model.ChangeDelete {
		return model.ChangeEvent{EventType: model.ChangeDelete, Old: &model.Reservation{ID: notice.ID}}, true, nil
	}

	current, err := fetch(ctx, notice.ID)
	if errors.Is(err, ErrNotFound) {
		return model.ChangeEvent{}, false, nil
	}
	if err != nil {
		return model.ChangeEvent{}, false, err
	}
	return model.ChangeEvent{EventType: notice.EventType, New: current}, true, nil
}
