package batch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-pethotel/internal/common/config"
	"github.com/uma-arai/sbcntr-pethotel/internal/mirror"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
	"github.com/uma-arai/sbcntr-pethotel/internal/repository"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/lifecycle"
)

// MockTaskNotifier はテスト用の Step Functions クライアントです
type MockTaskNotifier struct {
	inputs []*sfn.SendTaskSuccessInput
	err    error
}

func (m *MockTaskNotifier) SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error) {
	m.inputs = append(m.inputs, params)
	return &sfn.SendTaskSuccessOutput{}, m.err
}

type MockSignal struct {
	published int
}

func (m *MockSignal) Publish() { m.published++ }
func (m *MockSignal) Notify()  {}

func newTestController(t *testing.T, ctx context.Context, n int) (*lifecycle.Controller, *repository.MemoryReservationRepository, []string) {
	t.Helper()

	repo := repository.NewMemoryReservationRepository()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		service := model.ServiceDaycare
		date, pet := "2024-12-25", "보리"
		created, err := repo.Create(ctx, model.ReservationPatch{
			Service:         &service,
			PetName:         &pet,
			OwnerName:       &pet,
			ReservationDate: &date,
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, created.ID)
	}

	controller := lifecycle.NewController(repo, mirror.New(mirror.NewMemoryStore()), nil, &MockSignal{})
	return controller, repo, ids
}

func TestLifecycleBatchService_Run(t *testing.T) {
	// X-Rayのセグメントを設定
	ctx, seg := xray.BeginSegment(context.Background(), "TestLifecycleBatchService_Run")
	defer seg.Close(nil)

	tests := []struct {
		name       string
		action     Action
		extraIDs   []string
		wantStatus model.Status
		wantFailed int
		wantErr    bool
	}{
		{name: "まとめて確定", action: ActionConfirm, wantStatus: model.StatusConfirmed},
		{name: "まとめて完了", action: ActionComplete, wantStatus: model.StatusCompleted},
		{name: "まとめてキャンセル", action: ActionCancel, wantStatus: model.StatusCancelled},
		{name: "存在しない予約が混ざっても続行", action: ActionConfirm, extraIDs: []string{"missing"}, wantStatus: model.StatusConfirmed, wantFailed: 1},
		{name: "重複したIDは1回だけ処理", action: ActionCancel, extraIDs: []string{""}, wantStatus: model.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller, repo, ids := newTestController(t, ctx, 2)
			client := &MockTaskNotifier{}
			cfg := &config.Config{Env: "DEVELOPMENT"}
			cfg.SFN.TaskToken = "token"

			s := NewLifecycleBatchService(cfg, controller, client)
			args := append(append([]string{}, ids...), ids[0])
			if err := s.SetArgs(tt.action, append(args, tt.extraIDs...)); err != nil {
				t.Fatal(err)
			}

			err := s.Run(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}

			failed := 0
			for _, outcome := range s.Outcomes() {
				if !outcome.Success {
					failed++
					continue
				}
				if outcome.Status != tt.wantStatus {
					t.Errorf("outcome %s status = %s, want %s", outcome.ID, outcome.Status, tt.wantStatus)
				}
			}
			if failed != tt.wantFailed {
				t.Errorf("failed = %d, want %d", failed, tt.wantFailed)
			}
			if got, want := len(s.Outcomes()), len(ids)+tt.wantFailed; got != want {
				t.Errorf("outcomes = %d, want %d", got, want)
			}

			all, _ := repo.GetAll(ctx)
			for _, r := range all {
				if r.Status != tt.wantStatus {
					t.Errorf("backend status = %s, want %s", r.Status, tt.wantStatus)
				}
			}

			if len(client.inputs) != 1 {
				t.Fatalf("SendTaskSuccess calls = %d, want 1", len(client.inputs))
			}
			if aws.ToString(client.inputs[0].TaskToken) != "token" {
				t.Errorf("TaskToken = %s", aws.ToString(client.inputs[0].TaskToken))
			}
			var output struct {
				Action  Action    `json:"action"`
				Results []Outcome `json:"results"`
			}
			if err := json.Unmarshal([]byte(aws.ToString(client.inputs[0].Output)), &output); err != nil {
				t.Fatalf("invalid output: %v", err)
			}
			if output.Action != tt.action || len(output.Results) != len(s.Outcomes()) {
				t.Errorf("output = %+v", output)
			}
		})
	}
}

func TestLifecycleBatchService_Delete(t *testing.T) {
	ctx := context.Background()
	controller, repo, ids := newTestController(t, ctx, 3)

	s := NewLifecycleBatchService(&config.Config{Env: "LOCAL"}, controller, nil)
	if err := s.SetArgs(ActionDelete, ids); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	all, _ := repo.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("backend has %d records, want 0", len(all))
	}
	for _, outcome := range s.Outcomes() {
		if !outcome.Success {
			t.Errorf("outcome %+v, want success", outcome)
		}
	}
}

func TestLifecycleBatchService_ErrorHandling(t *testing.T) {
	ctx := context.Background()

	t.Run("未知の操作", func(t *testing.T) {
		s := NewLifecycleBatchService(&config.Config{}, nil, nil)
		if err := s.SetArgs("archive", []string{"a"}); err == nil {
			t.Error("SetArgs() error = nil, want error")
		}
	})

	t.Run("すべて失敗した場合はエラー", func(t *testing.T) {
		controller, _, _ := newTestController(t, ctx, 0)
		client := &MockTaskNotifier{}
		cfg := &config.Config{}
		cfg.SFN.TaskToken = "token"

		s := NewLifecycleBatchService(cfg, controller, client)
		if err := s.SetArgs(ActionComplete, []string{"missing-1", "missing-2"}); err != nil {
			t.Fatal(err)
		}
		if err := s.Run(ctx); err == nil {
			t.Error("Run() error = nil, want error")
		}
		if len(client.inputs) != 0 {
			t.Error("task success must not be sent when every reservation failed")
		}
	})

	t.Run("タスクトークンなし", func(t *testing.T) {
		controller, _, ids := newTestController(t, ctx, 1)
		s := NewLifecycleBatchService(&config.Config{}, controller, &MockTaskNotifier{})
		if err := s.SetArgs(ActionConfirm, ids); err != nil {
			t.Fatal(err)
		}
		if err := s.Run(ctx); err == nil {
			t.Error("Run() error = nil, want error")
		}
	})

	t.Run("通知の失敗はエラー", func(t *testing.T) {
		controller, _, ids := newTestController(t, ctx, 1)
		cfg := &config.Config{}
		cfg.SFN.TaskToken = "token"
		s := NewLifecycleBatchService(cfg, controller, &MockTaskNotifier{err: errors.New("TaskTimedOut")})
		if err := s.SetArgs(ActionConfirm, ids); err != nil {
			t.Fatal(err)
		}
		if err := s.Run(ctx); err == nil {
			t.Error("Run() error = nil, want error")
		}
	})

	t.Run("対象0件は成功", func(t *testing.T) {
		s := NewLifecycleBatchService(&config.Config{Env: "LOCAL"}, nil, nil)
		if err := s.SetArgs(ActionConfirm, nil); err != nil {
			t.Fatal(err)
		}
		if err := s.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}
