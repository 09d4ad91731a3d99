package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/tracing"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
	"github.com/uma-arai/sbcntr-pethotel/internal/repository"
	"github.com/uma-arai/sbcntr-pethotel/internal/sms"
)

var (
	// ErrAlreadyProcessing は同じ予約に対する操作が処理中であることを表します
	ErrAlreadyProcessing = errors.New("reservation is already being processed")
	// ErrInvalidStatus は永続化できないステータスが指定されたことを表します
	ErrInvalidStatus = errors.New("invalid reservation status")
)

// Mirror はコントローラーが使うミラーキャッシュの操作です
type Mirror interface {
	Reconcile(ctx context.Context, record model.DisplayReservation) error
	Remove(ctx context.Context, ids ...string) error
}

// Notifier は予約確定時の SMS 送信です
type Notifier interface {
	SendConfirmation(ctx context.Context, reservation model.DisplayReservation) sms.Result
}

// Signal は変更シグナルの配信先です
type Signal interface {
	Publish()
	Notify()
}

// Controller は予約ステータスの変更と削除を行い、
// ストア・ミラーキャッシュ・変更シグナルの整合を保ちます
type Controller struct {
	repo     repository.ReservationRepository
	cache    Mirror
	notifier Notifier
	signal   Signal

	mu         sync.Mutex
	processing map[string]struct{}
}

// NewController は新しいControllerを作成します。notifier が nil の場合 SMS は送りません
func NewController(repo repository.ReservationRepository, cache Mirror, notifier Notifier, signal Signal) *Controller {
	return &Controller{
		repo:       repo,
		cache:      cache,
		notifier:   notifier,
		signal:     signal,
		processing: make(map[string]struct{}),
	}
}

// ChangeStatus は予約のステータスを変更します。
// 遷移の妥当性は検査しません。確定時は SMS を送りますが、その失敗は結果に影響しません
func (c *Controller) ChangeStatus(ctx context.Context, id string, status model.Status) (_ *model.DisplayReservation, err error) {
	ctx, done := tracing.Begin(ctx, "Controller.ChangeStatus")
	defer func() { done(err) }()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	release, err := c.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	updated, err := c.repo.Update(ctx, id, model.ReservationPatch{Status: &status})
	if err != nil {
		log.Error().Err(err).Str("reservation_id", id).Str("status", string(status)).Msg("failed to update reservation status")
		return nil, fmt.Errorf("failed to change status of %s: %w", id, err)
	}

	display := updated.ToDisplay()

	if status == model.StatusConfirmed {
		c.sendConfirmation(ctx, display)
	}

	if err := c.cache.Reconcile(ctx, display); err != nil {
		log.Warn().Err(err).Str("reservation_id", id).Msg("failed to reconcile mirror cache")
	}

	c.signal.Publish()

	log.Info().
		Str("reservation_id", id).
		Str("service", string(display.Service)).
		Str("status", string(display.Status)).
		Msg("reservation status changed")
	return &display, nil
}

// Confirm は予約を確定します
func (c *Controller) Confirm(ctx context.Context, id string) (*model.DisplayReservation, error) {
	return c.ChangeStatus(ctx, id, model.StatusConfirmed)
}

// Complete は予約を完了にします
func (c *Controller) Complete(ctx context.Context, id string) (*model.DisplayReservation, error) {
	return c.ChangeStatus(ctx, id, model.StatusCompleted)
}

// Cancel は予約をキャンセルします
func (c *Controller) Cancel(ctx context.Context, id string) (*model.DisplayReservation, error) {
	return c.ChangeStatus(ctx, id, model.StatusCancelled)
}

// Delete は予約を物理削除します。現在のステータスは問いません
func (c *Controller) Delete(ctx context.Context, id string) (err error) {
	ctx, done := tracing.Begin(ctx, "Controller.Delete")
	defer func() { done(err) }()

	release, err := c.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	if err := c.repo.Remove(ctx, id); err != nil {
		log.Error().Err(err).Str("reservation_id", id).Msg("failed to delete reservation")
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}

	if err := c.cache.Remove(ctx, id); err != nil {
		log.Warn().Err(err).Str("reservation_id", id).Msg("failed to remove reservation from mirror cache")
	}
	c.signal.Publish()

	log.Info().Str("reservation_id", id).Msg("reservation deleted")
	return nil
}

// DeleteMany は複数の予約を1回の呼び出しで削除し、シグナルは最後に1回だけ送ります
func (c *Controller) DeleteMany(ctx context.Context, ids []string) (err error) {
	ctx, done := tracing.Begin(ctx, "Controller.DeleteMany")
	defer func() { done(err) }()

	ids = unique(ids)
	if len(ids) == 0 {
		return nil
	}

	release, err := c.acquire(ids...)
	if err != nil {
		return err
	}
	defer release()

	if err := c.repo.RemoveMany(ctx, ids); err != nil {
		log.Error().Err(err).Strs("reservation_ids", ids).Msg("failed to delete reservations")
		return fmt.Errorf("failed to delete %d reservations: %w", len(ids), err)
	}

	if err := c.cache.Remove(ctx, ids...); err != nil {
		log.Warn().Err(err).Strs("reservation_ids", ids).Msg("failed to remove reservations from mirror cache")
	}
	c.signal.Publish()

	log.Info().Int("count", len(ids)).Msg("reservations deleted")
	return nil
}

// IsProcessing は予約が処理中かを返します
func (c *Controller) IsProcessing(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.processing[id]
	return ok
}

// acquire は処理中マーカーを立てます。返された関数で必ず解除してください
func (c *Controller) acquire(ids ...string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if _, ok := c.processing[id]; ok {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessing, id)
		}
	}
	for _, id := range ids {
		c.processing[id] = struct{}{}
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, id := range ids {
			delete(c.processing, id)
		}
	}, nil
}

func (c *Controller) sendConfirmation(ctx context.Context, display model.DisplayReservation) {
	if c.notifier == nil {
		return
	}

	result := c.notifier.SendConfirmation(ctx, display)
	if !result.Success {
		log.Warn().Err(result.Err).Str("reservation_id", display.ID).Msg("confirmation sms failed")
	}
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
