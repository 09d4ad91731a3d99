package repository

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
)

// MemoryReservationRepository はプロセス内で完結する予約ストアです。
// ENV=LOCAL での起動とテストで使います
type MemoryReservationRepository struct {
	mu           sync.Mutex
	reservations map[string]model.Reservation
	subscribers  map[string]func(model.ChangeEvent)
	// emitMu はイベントの配信順をミューテーション順に揃えます
	emitMu sync.Mutex
	now    func() time.Time
}

// NewMemoryReservationRepository は空のMemoryReservationRepositoryを作成します
func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{
		reservations: make(map[string]model.Reservation),
		subscribers:  make(map[string]func(model.ChangeEvent)),
		now:          time.Now,
	}
}

// GetAll はすべての予約を作成日時の降順で返します
func (r *MemoryReservationRepository) GetAll(ctx context.Context) ([]model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservations := make([]model.Reservation, 0, len(r.reservations))
	for _, reservation := range r.reservations {
		reservations = append(reservations, reservation)
	}
	sort.Slice(reservations, func(i, j int) bool {
		if reservations[i].CreatedAt.Equal(reservations[j].CreatedAt) {
			return reservations[i].ID < reservations[j].ID
		}
		return reservations[i].CreatedAt.After(reservations[j].CreatedAt)
	})
	return reservations, nil
}

// GetByID は予約を1件返します
func (r *MemoryReservationRepository) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservation, ok := r.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &reservation, nil
}

// GetByDate は指定日の予約を返します。ホテルはチェックイン日で判定します
func (r *MemoryReservationRepository) GetByDate(ctx context.Context, date string) ([]model.Reservation, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	reservations := make([]model.Reservation, 0)
	for _, reservation := range all {
		if reservation.ToDisplay().EffectiveDate() == date {
			reservations = append(reservations, reservation)
		}
	}
	return reservations, nil
}

// Create は予約を作成します
func (r *MemoryReservationRepository) Create(ctx context.Context, patch model.ReservationPatch) (*model.Reservation, error) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	reservation := newReservation(patch, r.now())
	r.reservations[reservation.ID] = reservation
	r.mu.Unlock()

	created := reservation
	r.emit(model.ChangeEvent{EventType: model.ChangeInsert, New: &created})
	return &reservation, nil
}

// Update は予約を部分更新します
func (r *MemoryReservationRepository) Update(ctx context.Context, id string, patch model.ReservationPatch) (*model.Reservation, error) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	old, ok := r.reservations[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		r.mu.Unlock()
		return nil, fmt.Errorf("invalid status %q", *patch.Status)
	}
	updated := old
	patch.ApplyTo(&updated)
	updated.UpdatedAt = r.now()
	r.reservations[id] = updated
	r.mu.Unlock()

	newRecord := updated
	r.emit(model.ChangeEvent{EventType: model.ChangeUpdate, New: &newRecord, Old: &old})
	return &updated, nil
}

// Remove は予約を削除します。存在しないIDは何もしません
func (r *MemoryReservationRepository) Remove(ctx context.Context, id string) error {
	return r.RemoveMany(ctx, []string{id})
}

// RemoveMany は複数の予約を削除します
func (r *MemoryReservationRepository) RemoveMany(ctx context.Context, ids []string) error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	removed := make([]model.Reservation, 0, len(ids))
	for _, id := range ids {
		if reservation, ok := r.reservations[id]; ok {
			removed = append(removed, reservation)
			delete(r.reservations, id)
		}
	}
	r.mu.Unlock()

	for i := range removed {
		old := removed[i]
		r.emit(model.ChangeEvent{EventType: model.ChangeDelete, Old: &old})
	}
	return nil
}

// Subscribe は変更イベントの購読を登録します
func (r *MemoryReservationRepository) Subscribe(ctx context.Context, callback func(model.ChangeEvent)) (Subscription, error) {
	id := ulid.MustNew(ulid.Now(), rand.Reader).String()

	r.mu.Lock()
	r.subscribers[id] = callback
	r.mu.Unlock()

	return &memorySubscription{repo: r, id: id}, nil
}

// emit は mu を保持せずに呼び出します
func (r *MemoryReservationRepository) emit(event model.ChangeEvent) {
	r.mu.Lock()
	callbacks := make([]func(model.ChangeEvent), 0, len(r.subscribers))
	for _, cb := range r.subscribers {
		callbacks = append(callbacks, cb)
	}
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(event)
	}
}

type memorySubscription struct {
	repo *MemoryReservationRepository
	id   string
	once sync.Once
}

func (s *memorySubscription) Unsubscribe() {
	s.once.Do(func() {
		s.repo.mu.Lock()
		delete(s.repo.subscribers, s.id)
		s.repo.mu.Unlock()
	})
}
