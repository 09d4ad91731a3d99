package bus

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid"
	"github.com/rs/zerolog/log"
)

// Relay は変更シグナルを他のプロセスへ中継します
type Relay interface {
	Broadcast() error
}

// Bus はプロセス全体で1つだけの「予約が変わった」シグナルを配信します。
// ペイロードはなく、受信側は再読み込みのヒントとして扱います。
// 冗長なシグナルは想定内なので、受信側は冪等である必要があります
type Bus struct {
	mu        sync.RWMutex
	listeners map[string]func()
	relay     Relay
}

// New は新しいBusを作成します
func New() *Bus {
	return &Bus{listeners: make(map[string]func())}
}

// SetRelay はプロセス外への中継先を設定します
func (b *Bus) SetRelay(relay Relay) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = relay
}

// Subscribe はリスナーを登録します。
// 所有者が破棄されるときは必ず Unsubscribe を呼んでください
func (b *Bus) Subscribe(listener func()) *Subscription {
	id := ulid.MustNew(ulid.Now(), rand.Reader).String()

	b.mu.Lock()
	b.listeners[id] = listener
	b.mu.Unlock()

	return &Subscription{bus: b, id: id}
}

// Publish はローカルのリスナーに通知し、中継先にも送ります
func (b *Bus) Publish() {
	b.Notify()

	b.mu.RLock()
	relay := b.relay
	b.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Broadcast(); err != nil {
		log.Warn().Err(err).Msg("failed to relay change signal")
	}
}

// Notify はローカルのリスナーだけに通知します。
// 外部から届いたシグナルや、全インスタンスが個別に受け取るイベントに使います
func (b *Bus) Notify() {
	b.mu.RLock()
	listeners := make([]func(), 0, len(b.listeners))
	for _, listener := range b.listeners {
		listeners = append(listeners, listener)
	}
	b.mu.RUnlock()

	for _, listener := range listeners {
		invoke(listener)
	}
}

// Len は登録中のリスナー数を返します
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func invoke(listener func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("change listener panicked")
		}
	}()
	listener()
}

// Subscription はリスナーの登録を表します
type Subscription struct {
	bus  *Bus
	id   string
	once sync.Once
}

// ID は購読IDです
func (s *Subscription) ID() string {
	return s.id
}

// Unsubscribe はリスナーの登録を解除します。複数回呼んでも安全です
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.listeners, s.id)
		s.bus.mu.Unlock()
	})
}
