package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/config"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/tracing"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/utils"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
)

// Action はバッチで実行する操作です
type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionDelete   Action = "delete"
)

// Valid は既知の操作かを判定します
func (a Action) Valid() bool {
	switch a {
	case ActionConfirm, ActionComplete, ActionCancel, ActionDelete:
		return true
	}
	return false
}

// Operations はバッチが呼び出すライフサイクル操作です
type Operations interface {
	Confirm(ctx context.Context, id string) (*model.DisplayReservation, error)
	Complete(ctx context.Context, id string) (*model.DisplayReservation, error)
	Cancel(ctx context.Context, id string) (*model.DisplayReservation, error)
	DeleteMany(ctx context.Context, ids []string) error
}

// TaskNotifier は Step Functions のタスク結果通知です
type TaskNotifier interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
}

// Outcome は予約ごとの処理結果です
type Outcome struct {
	ID      string       `json:"id"`
	Success bool         `json:"success"`
	Status  model.Status `json:"status,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// LifecycleBatchService は複数の予約にまとめてライフサイクル操作を行い、結果を Step Functions に返します
type LifecycleBatchService struct {
	action     Action
	ids        []string
	outcomes   []Outcome
	operations Operations
	sfnClient  TaskNotifier
	cfg        *config.Config
}

// NewLifecycleBatchService は新しいLifecycleBatchServiceを作成します
func NewLifecycleBatchService(cfg *config.Config, operations Operations, sfnClient TaskNotifier) *LifecycleBatchService {
	return &LifecycleBatchService{
		operations: operations,
		sfnClient:  sfnClient,
		cfg:        cfg,
	}
}

// SetArgs はバッチ処理の引数を設定します
func (s *LifecycleBatchService) SetArgs(action Action, ids []string) error {
	if !action.Valid() {
		return fmt.Errorf("unknown action %q", action)
	}
	s.action = action
	s.ids = ids
	return nil
}

// Outcomes は直近の実行結果です
func (s *LifecycleBatchService) Outcomes() []Outcome {
	return s.outcomes
}

// Run はバッチ処理を実行します。
// 個々の予約の失敗では止まらず、すべて失敗した場合だけエラーを返します
func (s *LifecycleBatchService) Run(ctx context.Context) (err error) {
	ctx, done := tracing.Begin(ctx, "LifecycleBatchService.Run")
	defer func() { done(err) }()

	startTime := time.Now()

	outcomes := s.process(ctx)
	s.outcomes = outcomes

	failed := 0
	for _, outcome := range outcomes {
		if !outcome.Success {
			failed++
		}
	}
	if len(outcomes) > 0 && failed == len(outcomes) {
		return utils.GetStackWithError(fmt.Errorf("all %d reservations failed to %s", failed, s.action))
	}

	if err := s.sendTaskSuccess(ctx, outcomes); err != nil {
		return utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
	}

	duration := time.Since(startTime)
	tracing.AddMetadata(ctx, "duration", duration.String())
	tracing.AddMetadata(ctx, "failed", failed)

	log.Info().
		Str("action", string(s.action)).
		Int("total", len(outcomes)).
		Int("failed", failed).
		Dur("duration", duration).
		Msg("lifecycle batch completed")
	return nil
}

// process は予約ごとに操作を実行します。削除は1回の一括削除です
func (s *LifecycleBatchService) process(ctx context.Context) []Outcome {
	ids := dedupe(s.ids)
	outcomes := make([]Outcome, 0, len(ids))
	if len(ids) == 0 {
		return outcomes
	}

	if s.action == ActionDelete {
		err := s.operations.DeleteMany(ctx, ids)
		for _, id := range ids {
			outcomes = append(outcomes, newOutcome(id, nil, err))
		}
		return outcomes
	}

	op := s.operation()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, newOutcome(id, nil, err))
			continue
		}

		record, err := op(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("reservation_id", id).Str("action", string(s.action)).Msg("lifecycle batch item failed")
		}
		outcomes = append(outcomes, newOutcome(id, record, err))
	}
	return outcomes
}

func (s *LifecycleBatchService) operation() func(context.Context, string) (*model.DisplayReservation, error) {
	switch s.action {
	case ActionComplete:
		return s.operations.Complete
	case ActionCancel:
		return s.operations.Cancel
	}
	return s.operations.Confirm
}

// sendTaskSuccess は Step Functions にタスク成功と処理結果を通知します
func (s *LifecycleBatchService) sendTaskSuccess(ctx context.Context, outcomes []Outcome) error {
	// ローカルの場合はStep Functionsの処理をスキップ
	if s.cfg.IsLocal() || s.sfnClient == nil {
		log.Info().Msg("local environment detected; skipping Step Functions task success notification")
		return nil
	}

	output, err := json.Marshal(map[string]any{
		"action":  s.action,
		"results": outcomes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	taskToken := s.cfg.SFN.TaskToken
	if taskToken == "" {
		return errors.New("SFN task token is not set in config")
	}

	_, err = s.sfnClient.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(taskToken),
		Output:    aws.String(string(output)),
	})
	if err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}

	log.Info().RawJSON("output", output).Msg("sent task success")
	return nil
}

func newOutcome(id string, record *model.DisplayReservation, err error) Outcome {
	if err != nil {
		return Outcome{ID: id, Error: err.Error()}
	}
	outcome := Outcome{ID: id, Success: true}
	if record != nil {
		outcome.Status = record.Status
	}
	return outcome
}

func dedupe(ids []string) []string {
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
