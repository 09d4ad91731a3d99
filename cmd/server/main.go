package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/app"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/config"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/logging"
	"github.com/uma-arai/sbcntr-pethotel/internal/httpapi"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/booking"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/lifecycle"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/today"
)

const (
	projectName = "sbcntr-pethotel"
)

func main() {
	// 設定の読み込み
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	// X-Ray設定
	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
			ServiceVersion: "1.0.0",
		}); err != nil {
			log.Warn().Err(err).Msg("failed to configure X-Ray")
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	defer deps.Close()

	// 起動時にミラーキャッシュをストアの内容で埋める。失敗しても起動は続ける
	if err := deps.WarmCache(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to warm mirror cache")
	}

	// 他のプロセスによる変更もキャッシュとシグナルに反映する
	sub, err := deps.Syncer.Subscribe(ctx, func(change lifecycle.Change) {
		id := change.ID
		if change.Data != nil {
			id = change.Data.ID
		}
		log.Debug().Str("type", string(change.Type)).Str("reservation_id", id).Msg("realtime change applied")
	})
	if err != nil {
		log.Warn().Err(err).Msg("realtime subscription unavailable; relying on local signals")
	} else {
		defer sub.Unsubscribe()
	}

	todayView := today.New(deps.Repo, deps.Syncer, cfg.Timezone.Location())
	defer func() {
		if err := todayView.SetEnabled(context.Background(), false); err != nil {
			log.Warn().Err(err).Msg("failed to disable today view")
		}
	}()

	if !cfg.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.HTTP.AdminAPIKey == "" {
		log.Warn().Msg("ADMIN_API_KEY is not set; admin endpoints will reject every request")
	}

	router := httpapi.NewRouter(
		deps.Controller,
		booking.NewService(deps.Repo, deps.Cache, deps.Bus),
		todayView,
		deps.Bus,
		deps.Notifications,
		httpapi.Options{
			AdminAPIKey: cfg.HTTP.AdminAPIKey,
			CORSOrigins: cfg.HTTP.CORSOrigins,
		},
	)

	var handler http.Handler = router
	if cfg.EnableTracing {
		handler = xray.Handler(xray.NewFixedSegmentNamer(projectName), router)
	}

	// SSE の接続を切らないよう WriteTimeout は設定しない。
	// BaseContext をキャンセルするとシャットダウン時に SSE のストリームも終了する
	addr := ":" + cfg.HTTP.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	// シグナルを受けたらグレースフルシャットダウンする
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	// 先にリクエストのコンテキストをキャンセルして SSE の接続を閉じる
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownIn)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
