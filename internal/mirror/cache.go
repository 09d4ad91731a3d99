package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
)

// KeyAll は全予約の一覧を保存するキーです
const KeyAll = "pethotel:reservations"

// ServiceKey はサービス別一覧のキーを返します
func ServiceKey(service model.Service) string {
	return KeyAll + ":" + string(service)
}

// Keys はミラーキャッシュが使う4つのキーを返します
func Keys() []string {
	keys := []string{KeyAll}
	for _, service := range model.Services() {
		keys = append(keys, ServiceKey(service))
	}
	return keys
}

// Cache はカレンダー表示用に予約のスナップショットを保持するミラーキャッシュです。
// 全体一覧とサービス別一覧の両方に同じレコードを持ちます。
// サーバーが正であり、キャッシュはいつ捨てても再構築できます
type Cache struct {
	store Store
	// mu は同一プロセス内の read-modify-write を直列化します
	mu sync.Mutex
}

// New は新しいCacheを作成します
func New(store Store) *Cache {
	return &Cache{store: store}
}

// snapshot はキーごとの一覧です
type snapshot map[string][]model.DisplayReservation

// Init は存在しないキーを空の一覧で初期化します
func (c *Cache) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	missing := make(map[string][]byte)
	for _, key := range Keys() {
		_, ok, err := c.store.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("mirror cache unavailable")
			return err
		}
		if !ok {
			missing[key] = []byte("[]")
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := c.store.SetMany(ctx, missing); err != nil {
		log.Warn().Err(err).Msg("failed to initialize mirror cache")
		return err
	}
	return nil
}

// Upsert はレコードを全体一覧とサービス別一覧に書き込みます。
// 同じIDがあれば置き換え、なければ追加します。
// record.Service が空なら service を設定し、異なる場合はエラーにします
func (c *Cache) Upsert(ctx context.Context, record model.DisplayReservation, service model.Service) error {
	if !service.Valid() {
		return fmt.Errorf("unknown service %q", service)
	}
	switch record.Service {
	case "":
		record.Service = service
	case service:
	default:
		return fmt.Errorf("service mismatch for %s: record is %q, requested %q", record.ID, record.Service, service)
	}

	return c.update(ctx, func(s snapshot) {
		s.upsert(record, service)
	})
}

// Remove は指定したIDをすべての一覧から削除します。存在しないIDは無視します
func (c *Cache) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	return c.update(ctx, func(s snapshot) {
		s.remove(ids)
	})
}

// Reconcile はIDを一度すべての一覧から外し、キャンセル・削除以外なら入れ直します
func (c *Cache) Reconcile(ctx context.Context, record model.DisplayReservation) error {
	return c.update(ctx, func(s snapshot) {
		s.remove([]string{record.ID})
		if record.Status.Excluded() || !record.Service.Valid() {
			return
		}
		s.upsert(record, record.Service)
	})
}

// Warm はキャッシュを捨てて与えられたレコードから作り直します
func (c *Cache) Warm(ctx context.Context, records []model.DisplayReservation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := emptySnapshot()
	for _, record := range records {
		if record.Status.Excluded() || !record.Service.Valid() {
			continue
		}
		s.upsert(record, record.Service)
	}

	if err := c.save(ctx, s); err != nil {
		return err
	}
	log.Info().Int("count", len(s[KeyAll])).Msg("mirror cache warmed")
	return nil
}

// Clear はすべての一覧を空にします
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.save(ctx, emptySnapshot())
}

// ReadAll は全体一覧を返します。読み込めない場合は空を返します
func (c *Cache) ReadAll(ctx context.Context) []model.DisplayReservation {
	return c.read(ctx, KeyAll)
}

// ReadByService はサービス別一覧を返します
func (c *Cache) ReadByService(ctx context.Context, service model.Service) []model.DisplayReservation {
	return c.read(ctx, ServiceKey(service))
}

func (c *Cache) read(ctx context.Context, key string) []model.DisplayReservation {
	records, err := c.get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("mirror cache unavailable")
		return []model.DisplayReservation{}
	}
	return records
}

func (c *Cache) update(ctx context.Context, mutate func(snapshot)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("mirror cache unavailable")
		return err
	}
	mutate(s)
	return c.save(ctx, s)
}

func (c *Cache) load(ctx context.Context) (snapshot, error) {
	s := make(snapshot)
	for _, key := range Keys() {
		records, err := c.get(ctx, key)
		if err != nil {
			return nil, err
		}
		s[key] = records
	}
	return s, nil
}

// get は壊れたJSONを空の一覧として扱います
func (c *Cache) get(ctx context.Context, key string) ([]model.DisplayReservation, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	records := []model.DisplayReservation{}
	if !ok {
		return records, nil
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("malformed mirror cache entry, treating as empty")
		return []model.DisplayReservation{}, nil
	}
	if records == nil {
		records = []model.DisplayReservation{}
	}
	return records, nil
}

func (c *Cache) save(ctx context.Context, s snapshot) error {
	values := make(map[string][]byte, len(s))
	for key, records := range s {
		raw, err := json.Marshal(records)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		values[key] = raw
	}
	if err := c.store.SetMany(ctx, values); err != nil {
		log.Warn().Err(err).Msg("failed to write mirror cache")
		return err
	}
	return nil
}

func emptySnapshot() snapshot {
	s := make(snapshot)
	for _, key := range Keys() {
		s[key] = []model.DisplayReservation{}
	}
	return s
}

// upsert はサービス変更で古い一覧にIDが残らないよう、他のサービス一覧からは取り除きます
func (s snapshot) upsert(record model.DisplayReservation, service model.Service) {
	s[KeyAll] = replaceOrAppend(s[KeyAll], record)
	for _, other := range model.Services() {
		key := ServiceKey(other)
		if other == service {
			s[key] = replaceOrAppend(s[key], record)
			continue
		}
		s[key] = without(s[key], map[string]struct{}{record.ID: {}})
	}
}

func (s snapshot) remove(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for key, records := range s {
		s[key] = without(records, set)
	}
}

func replaceOrAppend(records []model.DisplayReservation, record model.DisplayReservation) []model.DisplayReservation {
	for i := range records {
		if records[i].ID == record.ID {
			records[i] = record
			return records
		}
	}
	return append(records, record)
}

func without(records []model.DisplayReservation, ids map[string]struct{}) []model.DisplayReservation {
	kept := make([]model.DisplayReservation, 0, len(records))
	for _, record := range records {
		if _, ok := ids[record.ID]; ok {
			continue
		}
		kept = append(kept, record)
	}
	return kept
}
