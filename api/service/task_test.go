package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"formy/api/cache"
	"formy/api/dto"
	"formy/api/kafka"
	"formy/api/models"
	"formy/api/repository"
)

type mockTaskRepo struct {
	createAdmittedFunc func(ctx context.Context, task *models.Task, maxActive int) error
	getFunc            func(ctx context.Context, id string) (*models.Task, error)
	listFunc           func(ctx context.Context, ownerID string, page, pageSize int) ([]*models.Task, error)
	updateStatusFunc   func(ctx context.Context, id string, status models.TaskStatus, upd repository.StatusUpdate) error
	cancelFunc         func(ctx context.Context, id string) (bool, int, string, error)
	countFunc          func(ctx context.Context) (map[models.TaskStatus]int64, error)
}

func (m *mockTaskRepo) CreateAdmitted(ctx context.Context, task *models.Task, maxActive int) error {
	if m.createAdmittedFunc != nil {
		return m.createAdmittedFunc(ctx, task, maxActive)
	}
	task.Status = models.StatusPending
	return nil
}

func (m *mockTaskRepo) Get(ctx context.Context, id string) (*models.Task, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, repository.ErrTaskNotFound
}

func (m *mockTaskRepo) List(ctx context.Context, ownerID string, page, pageSize int) ([]*models.Task, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, ownerID, page, pageSize)
	}
	return nil, nil
}

func (m *mockTaskRepo) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, upd repository.StatusUpdate) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, status, upd)
	}
	return nil
}

func (m *mockTaskRepo) Cancel(ctx context.Context, id string) (bool, int, string, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, id)
	}
	return false, 0, "", repository.ErrTaskNotFound
}

func (m *mockTaskRepo) CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx)
	}
	return map[models.TaskStatus]int64{}, nil
}

type mockLedger struct {
	refunds     []int
	refundUsers []string
}

func (m *mockLedger) Account(ctx context.Context, userID string) (*models.CreditAccount, error) {
	return nil, repository.ErrAccountNotFound
}

func (m *mockLedger) Consume(ctx context.Context, userID string, amount int) (int, error) {
	return 0, nil
}

func (m *mockLedger) Add(ctx context.Context, userID string, amount int) (int, error) {
	return 0, nil
}

func (m *mockLedger) Refund(ctx context.Context, userID string, amount int) error {
	m.refunds = append(m.refunds, amount)
	m.refundUsers = append(m.refundUsers, userID)
	return nil
}

func (m *mockLedger) ChangePlan(ctx context.Context, userID, planID string) (*models.CreditAccount, error) {
	return nil, repository.ErrUnknownPlan
}

type mockStatusCache struct {
	snapshots map[string]cache.StatusSnapshot
	getErr    error
}

func newMockStatusCache() *mockStatusCache {
	return &mockStatusCache{snapshots: make(map[string]cache.StatusSnapshot)}
}

func (m *mockStatusCache) Get(ctx context.Context, taskID string) (*cache.StatusSnapshot, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	snap, ok := m.snapshots[taskID]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return &snap, nil
}

func (m *mockStatusCache) Set(ctx context.Context, taskID string, snap cache.StatusSnapshot) error {
	m.snapshots[taskID] = snap
	return nil
}

type mockQueue struct {
	pushed  []string
	pushErr error
	length  int64
	healthy bool
}

func (m *mockQueue) Push(ctx context.Context, taskID string) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	m.pushed = append(m.pushed, taskID)
	return nil
}

func (m *mockQueue) Length(ctx context.Context) (int64, error) { return m.length, nil }
func (m *mockQueue) HealthCheck(ctx context.Context) bool      { return m.healthy }

type mockProducer struct {
	events []*kafka.TaskEvent
}

func (m *mockProducer) SendTaskEvent(ctx context.Context, topic string, event *kafka.TaskEvent) error {
	m.events = append(m.events, event)
	return nil
}

func (m *mockProducer) Close() error { return nil }

func validRequest() *dto.CreateTaskRequest {
	return &dto.CreateTaskRequest{
		Mode:        "head_swap",
		SourceImage: "img_source.png",
		Config: models.EditConfig{
			HeadSwap: &models.HeadSwapConfig{ReferenceImage: "img_ref.png"},
		},
	}
}

func newTestService(repo *mockTaskRepo, ledger *mockLedger, statusCache *mockStatusCache, queue *mockQueue, producer *mockProducer, t *testing.T) *TaskService {
	return NewTaskService(repo, ledger, statusCache, queue, producer, "task_events", 3, zaptest.NewLogger(t))
}

func TestTaskService_CreateTask_Success(t *testing.T) {
	repo := &mockTaskRepo{}
	ledger := &mockLedger{}
	statusCache := newMockStatusCache()
	queue := &mockQueue{}
	producer := &mockProducer{}
	svc := newTestService(repo, ledger, statusCache, queue, producer, t)

	resp, err := svc.CreateTask(context.Background(), "user-1", validRequest())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Status != string(models.StatusPending) {
		t.Errorf("Expected status pending, got %s", resp.Status)
	}
	if resp.CreditsConsumed != 48 {
		t.Errorf("Expected 48 credits consumed, got %d", resp.CreditsConsumed)
	}
	if len(queue.pushed) != 1 || queue.pushed[0] != resp.ID {
		t.Errorf("Expected task %s to be queued, got %v", resp.ID, queue.pushed)
	}
	if len(producer.events) != 1 || producer.events[0].Type != kafka.EventTaskCreated {
		t.Errorf("Expected a task.created event, got %v", producer.events)
	}
	if snap, ok := statusCache.snapshots[resp.ID]; !ok || snap.Status != models.StatusPending {
		t.Error("Expected pending snapshot in status cache")
	}
}

func TestTaskService_CreateTask_InvalidMode(t *testing.T) {
	svc := newTestService(&mockTaskRepo{}, &mockLedger{}, newMockStatusCache(), &mockQueue{}, &mockProducer{}, t)

	req := validRequest()
	req.Mode = "face_restore"
	if _, err := svc.CreateTask(context.Background(), "user-1", req); !errors.Is(err, models.ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}
}

func TestTaskService_CreateTask_InvalidConfig(t *testing.T) {
	svc := newTestService(&mockTaskRepo{}, &mockLedger{}, newMockStatusCache(), &mockQueue{}, &mockProducer{}, t)

	req := validRequest()
	req.Config.HeadSwap = nil
	if _, err := svc.CreateTask(context.Background(), "user-1", req); err == nil {
		t.Error("Expected config validation to fail")
	}
}

func TestTaskService_CreateTask_InsufficientCredits(t *testing.T) {
	repo := &mockTaskRepo{
		createAdmittedFunc: func(ctx context.Context, task *models.Task, maxActive int) error {
			return &repository.InsufficientCreditsError{Required: 48, Current: 10}
		},
	}
	queue := &mockQueue{}
	svc := newTestService(repo, &mockLedger{}, newMockStatusCache(), queue, &mockProducer{}, t)

	_, err := svc.CreateTask(context.Background(), "user-1", validRequest())

	var insufficient *repository.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Deficit() != 38 {
		t.Errorf("Expected deficit 38, got %d", insufficient.Deficit())
	}
	if len(queue.pushed) != 0 {
		t.Error("Expected nothing queued after rejection")
	}
}

func TestTaskService_CreateTask_ConcurrencyLimit(t *testing.T) {
	repo := &mockTaskRepo{
		createAdmittedFunc: func(ctx context.Context, task *models.Task, maxActive int) error {
			if maxActive != 3 {
				t.Errorf("Expected maxActive 3, got %d", maxActive)
			}
			return &repository.ConcurrencyLimitError{Current: 3, Limit: 3}
		},
	}
	svc := newTestService(repo, &mockLedger{}, newMockStatusCache(), &mockQueue{}, &mockProducer{}, t)

	_, err := svc.CreateTask(context.Background(), "user-1", validRequest())

	var limit *repository.ConcurrencyLimitError
	if !errors.As(err, &limit) {
		t.Fatalf("Expected ConcurrencyLimitError, got %v", err)
	}
}

func TestTaskService_CreateTask_QueueFailureRefunds(t *testing.T) {
	var transitions []models.TaskStatus
	repo := &mockTaskRepo{
		updateStatusFunc: func(ctx context.Context, id string, status models.TaskStatus, upd repository.StatusUpdate) error {
			transitions = append(transitions, status)
			return nil
		},
	}
	ledger := &mockLedger{}
	queue := &mockQueue{pushErr: errors.New("redis down")}
	svc := newTestService(repo, ledger, newMockStatusCache(), queue, &mockProducer{}, t)

	if _, err := svc.CreateTask(context.Background(), "user-1", validRequest()); err == nil {
		t.Fatal("Expected enqueue failure to surface")
	}

	if len(transitions) != 2 || transitions[0] != models.StatusProcessing || transitions[1] != models.StatusFailed {
		t.Errorf("Expected processing then failed transitions, got %v", transitions)
	}
	if len(ledger.refunds) != 1 || ledger.refunds[0] != 48 {
		t.Errorf("Expected a 48 credit refund, got %v", ledger.refunds)
	}
}

func TestTaskService_GetTask_CacheFastPath(t *testing.T) {
	repo := &mockTaskRepo{
		getFunc: func(ctx context.Context, id string) (*models.Task, error) {
			t.Error("Expected store to not be hit on cache fast path")
			return nil, repository.ErrTaskNotFound
		},
	}
	statusCache := newMockStatusCache()
	statusCache.snapshots["task-1"] = cache.StatusSnapshot{Status: models.StatusProcessing, Progress: 55, Step: "swapping faces"}
	svc := newTestService(repo, &mockLedger{}, statusCache, &mockQueue{}, &mockProducer{}, t)

	resp, err := svc.GetTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Progress != 55 || resp.Step != "swapping faces" {
		t.Errorf("Expected cached snapshot, got %+v", resp)
	}
}

func TestTaskService_GetTask_TerminalSnapshotFallsThrough(t *testing.T) {
	// Terminal snapshots lack the result payload, so the store serves
	// the full record.
	task := &models.Task{ID: "task-1", Status: models.StatusDone, Progress: 100,
		Result: &models.TaskResult{OutputImage: "out.png"}}
	repo := &mockTaskRepo{
		getFunc: func(ctx context.Context, id string) (*models.Task, error) {
			return task, nil
		},
	}
	statusCache := newMockStatusCache()
	statusCache.snapshots["task-1"] = cache.StatusSnapshot{Status: models.StatusDone, Progress: 100}
	svc := newTestService(repo, &mockLedger{}, statusCache, &mockQueue{}, &mockProducer{}, t)

	resp, err := svc.GetTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Result == nil || resp.Result.OutputImage != "out.png" {
		t.Errorf("Expected full record with result, got %+v", resp)
	}
}

func TestTaskService_GetTask_NotFound(t *testing.T) {
	svc := newTestService(&mockTaskRepo{}, &mockLedger{}, newMockStatusCache(), &mockQueue{}, &mockProducer{}, t)

	if _, err := svc.GetTask(context.Background(), "missing"); !errors.Is(err, dto.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestTaskService_CancelTask_RefundsPending(t *testing.T) {
	repo := &mockTaskRepo{
		cancelFunc: func(ctx context.Context, id string) (bool, int, string, error) {
			return true, 48, "user-1", nil
		},
	}
	ledger := &mockLedger{}
	producer := &mockProducer{}
	svc := newTestService(repo, ledger, newMockStatusCache(), &mockQueue{}, producer, t)

	if err := svc.CancelTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(ledger.refunds) != 1 || ledger.refunds[0] != 48 || ledger.refundUsers[0] != "user-1" {
		t.Errorf("Expected 48 credits refunded to user-1, got %v", ledger.refunds)
	}
	if len(producer.events) != 1 || producer.events[0].Type != kafka.EventTaskCancelled {
		t.Error("Expected a task.cancelled event")
	}
}

func TestTaskService_CancelTask_NoRefundWhenProcessing(t *testing.T) {
	repo := &mockTaskRepo{
		cancelFunc: func(ctx context.Context, id string) (bool, int, string, error) {
			return false, 48, "user-1", nil
		},
	}
	ledger := &mockLedger{}
	svc := newTestService(repo, ledger, newMockStatusCache(), &mockQueue{}, &mockProducer{}, t)

	if err := svc.CancelTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(ledger.refunds) != 0 {
		t.Errorf("Expected no refund for a started task, got %v", ledger.refunds)
	}
}

func TestTaskService_CancelTask_InvalidTransition(t *testing.T) {
	repo := &mockTaskRepo{
		cancelFunc: func(ctx context.Context, id string) (bool, int, string, error) {
			return false, 0, "", repository.ErrInvalidTransition
		},
	}
	svc := newTestService(repo, &mockLedger{}, newMockStatusCache(), &mockQueue{}, &mockProducer{}, t)

	if err := svc.CancelTask(context.Background(), "task-1"); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestTaskService_QueueStats(t *testing.T) {
	repo := &mockTaskRepo{
		countFunc: func(ctx context.Context) (map[models.TaskStatus]int64, error) {
			return map[models.TaskStatus]int64{
				models.StatusPending:    4,
				models.StatusProcessing: 2,
				models.StatusDone:       10,
			}, nil
		},
	}
	svc := newTestService(repo, &mockLedger{}, newMockStatusCache(), &mockQueue{}, &mockProducer{}, t)

	stats, err := svc.QueueStats(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stats.Pending != 4 || stats.Processing != 2 || stats.Total != 16 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
