package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/bus"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/config"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/database"
	"github.com/uma-arai/sbcntr-pethotel/internal/mirror"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
	"github.com/uma-arai/sbcntr-pethotel/internal/repository"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/lifecycle"
	"github.com/uma-arai/sbcntr-pethotel/internal/sms"
)

// App はサーバーとバッチで共有する依存関係です
type App struct {
	Repo          repository.ReservationRepository
	Notifications repository.NotificationRepository
	Cache         *mirror.Cache
	Bus           *bus.Bus
	Controller    *lifecycle.Controller
	Syncer        *lifecycle.Syncer

	closers []func() error
}

// New は設定から依存関係を組み立てます。
// ENV=LOCAL の場合はメモリ上のストアとキャッシュを使い、外部サービスに接続しません
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Bus: bus.New()}

	if cfg.IsLocal() {
		a.Repo = repository.NewMemoryReservationRepository()
		a.Notifications = repository.NewMemoryNotificationRepository()
		a.Cache = mirror.New(mirror.NewMemoryStore())
	} else {
		db, err := database.NewDB(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		repoDB := &repository.DB{DB: db.DB}
		if err := repoDB.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Repo = repository.NewReservationRepository(repoDB, db.DSN())
		a.Notifications = repository.NewNotificationRepository(repoDB)

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		a.Cache = mirror.New(mirror.NewRedisStore(client))
	}

	if cfg.NATS.URL != "" {
		relay, err := bus.NewNATSRelay(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, relay.Close)
		if err := relay.Attach(a.Bus); err != nil {
			a.Close()
			return nil, err
		}
		log.Info().Str("origin", relay.Origin()).Str("subject", cfg.NATS.Subject).Msg("change relay attached")
	}

	notifier, err := newNotifier(ctx, cfg, a.Notifications)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Controller = lifecycle.NewController(a.Repo, a.Cache, notifier, a.Bus)
	a.Syncer = lifecycle.NewSyncer(a.Repo, a.Cache, a.Bus)
	return a, nil
}

// newNotifier は SMS 送信を組み立てます。無効な場合は nil を返します
func newNotifier(ctx context.Context, cfg *config.Config, recorder sms.NotificationRecorder) (lifecycle.Notifier, error) {
	if cfg.SMS.Disabled || cfg.IsLocal() {
		log.Info().Msg("sms dispatch disabled")
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	provider := sms.NewSNSProvider(sns.NewFromConfig(awsCfg), cfg.SMS.CountryCode, cfg.SMS.SenderID)
	return sms.NewDispatcher(provider, recorder, cfg.SMS.ShopName), nil
}

// WarmCache はミラーキャッシュを初期化し、ストアの内容で埋めます
func (a *App) WarmCache(ctx context.Context) error {
	if err := a.Cache.Init(ctx); err != nil {
		return err
	}

	reservations, err := a.Repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load reservations: %w", err)
	}
	records := make([]model.DisplayReservation, 0, len(reservations))
	for _, r := range reservations {
		records = append(records, r.ToDisplay())
	}
	return a.Cache.Warm(ctx, records)
}

// Close は接続を逆順に閉じます
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("failed to close resource")
		}
	}
	a.closers = nil
}
