package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/app"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/config"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/logging"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/utils"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/batch"
)

const (
	projectName = "sbcntr-pethotel-batch"
)

func main() {
	// コマンドライン引数のパース
	action := flag.String("action", "", "実行する操作 (confirm|complete|cancel|delete)")
	ids := flag.String("ids", "", "対象の予約ID (カンマ区切り)")
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	// 最後の引数として渡されたタスクトークンを取得
	// ENV=LOCALの場合はタスクトークンを取得しない
	taskToken := "DUMMY_TASK_TOKEN"
	if os.Getenv("ENV") != "LOCAL" {
		if flag.NArg() == 0 {
			log.Fatal().Msg("task token is required")
		}
		taskToken = flag.Arg(flag.NArg() - 1)
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig(taskToken)
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
			if configErr := xray.Configure(xray.Config{}); configErr != nil {
				log.Fatal().Err(configErr).Msg("failed to configure default X-Ray settings")
			}
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	// Step Functionsクライアントの初期化
	var sfnClient *sfn.Client
	if !cfg.IsLocal() {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load AWS config")
		}
		sfnClient = sfn.NewFromConfig(awsCfg)
	}

	// コンテキストの作成
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		if err := seg.AddMetadata("action", *action); err != nil {
			log.Warn().Err(err).Msg("failed to add action metadata")
		}
		if err := seg.AddMetadata("timeout", timeout.String()); err != nil {
			log.Warn().Err(err).Msg("failed to add timeout metadata")
		}
	}

	deps, err := app.New(ctx, cfg)
	if err != nil {
		fail(ctx, cfg, sfnClient, err)
	}
	defer deps.Close()

	// サービスの初期化
	var service *batch.LifecycleBatchService
	if sfnClient != nil {
		service = batch.NewLifecycleBatchService(cfg, deps.Controller, sfnClient)
	} else {
		service = batch.NewLifecycleBatchService(cfg, deps.Controller, nil)
	}
	if err := service.SetArgs(batch.Action(*action), splitIDs(*ids)); err != nil {
		fail(ctx, cfg, sfnClient, err)
	}

	// シグナルハンドリングの設定
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// バッチ処理の実行
	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	// シグナルまたはエラーの待機
	select {
	case sig := <-sigChan:
		log.Warn().Str("signal", sig.String()).Msg("received signal")
		cancel()
	case err := <-errChan:
		if err != nil {
			deps.Close()
			fail(ctx, cfg, sfnClient, err)
		}
		log.Info().Msg("batch process completed successfully")
	}
}

// fail はエラーを記録し、ローカル環境以外では Step Functions に失敗を通知して終了します
func fail(ctx context.Context, cfg *config.Config, sfnClient *sfn.Client, err error) {
	log.Error().Msgf("batch process failed: %+v", utils.GetStackWithError(err))

	if !cfg.IsLocal() && sfnClient != nil {
		input := &sfn.SendTaskFailureInput{
			TaskToken: aws.String(cfg.SFN.TaskToken),
			Error:     aws.String("Batch process failed"),
			Cause:     aws.String(err.Error()),
		}

		// タイムアウト後でも通知できるようにキャンセルを引き継がない
		if _, sendErr := sfnClient.SendTaskFailure(context.WithoutCancel(ctx), input); sendErr != nil {
			log.Error().Err(sendErr).Msg("failed to send task failure")
		}
	}

	os.Exit(1)
}

func splitIDs(value string) []string {
	var ids []string
	for _, id := range strings.Split(value, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
