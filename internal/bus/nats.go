package bus

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid"
	"github.com/rs/zerolog/log"
)

// DefaultSubject は変更シグナルを流す NATS のサブジェクトです
const DefaultSubject = "pethotel.reservations.changed"

type signal struct {
	Origin string `json:"origin"`
}

// NATSRelay は NATS 経由で他のサーバーインスタンスと変更シグナルを共有します
type NATSRelay struct {
	conn    *nats.Conn
	subject string
	origin  string
	sub     *nats.Subscription
}

// NewNATSRelay は NATS に接続して新しいNATSRelayを作成します
func NewNATSRelay(url, subject string) (*NATSRelay, error) {
	conn, err := nats.Connect(url, nats.Name("sbcntr-pethotel"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSRelay{
		conn:    conn,
		subject: subject,
		origin:  ulid.MustNew(ulid.Now(), rand.Reader).String(),
	}, nil
}

// Origin はこのインスタンスの識別子です
func (r *NATSRelay) Origin() string {
	return r.origin
}

// Broadcast は他のインスタンスへ変更シグナルを送ります
func (r *NATSRelay) Broadcast() error {
	data, err := json.Marshal(signal{Origin: r.origin})
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.subject, err)
	}
	return nil
}

// Attach はバスの中継先になり、他のインスタンスからのシグナルをバスへ流します
func (r *NATSRelay) Attach(b *Bus) error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		r.handle(b, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.subject, err)
	}
	r.sub = sub
	b.SetRelay(r)
	return nil
}

// handle は自分が送ったシグナルを無視します
func (r *NATSRelay) handle(b *Bus, data []byte) {
	var s signal
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().Err(err).Str("subject", r.subject).Msg("ignoring malformed change signal")
		return
	}
	if s.Origin == r.origin {
		return
	}
	b.Notify()
}

// Close は購読を解除して接続を閉じます
func (r *NATSRelay) Close() error {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe change signal")
		}
	}
	r.conn.Close()
	return nil
}
