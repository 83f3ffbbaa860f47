package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ragshell/backend/internal/engine"
	"ragshell/backend/internal/observability"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type Task struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Operation string          `json:"operation"`
	Args      map[string]any  `json:"args"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error"`
	Stage     string          `json:"stage,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

// Dispatcher runs one host operation to completion.
type Dispatcher interface {
	Dispatch(op string, args map[string]any) (string, error)
}

type Config struct {
	MaxConcurrency int
	QueueSize      int
	// History receives every task once it reaches a terminal status.
	History HistoryStore
}

func defaultConfig() Config {
	return Config{
		MaxConcurrency: 2,
		QueueSize:      64,
	}
}

type Service struct {
	dispatcher Dispatcher
	cfg        Config

	mu    sync.RWMutex
	tasks map[string]*Task

	queue  chan string
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	seq    uint64
}

func NewService(dispatcher Dispatcher) *Service {
	return NewServiceWithConfig(dispatcher, Config{})
}

func NewServiceWithConfig(dispatcher Dispatcher, cfg Config) *Service {
	def := defaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	s := &Service{
		dispatcher: dispatcher,
		cfg:        cfg,
		tasks:      make(map[string]*Task),
		queue:      make(chan string, cfg.QueueSize),
		stopCh:     make(chan struct{}),
	}

	for i := 0; i < cfg.MaxConcurrency; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// Close stops accepting work and waits for in-flight tasks. Queued tasks that
// never started stay pending.
func (s *Service) Close() {
	s.once.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case taskID := <-s.queue:
			s.execute(taskID)
		}
	}
}

func isTerminalStatus(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

func (s *Service) Submit(op string, args map[string]any) (string, error) {
	if s.dispatcher == nil {
		return "", fmt.Errorf("dispatcher is nil")
	}
	select {
	case <-s.stopCh:
		return "", fmt.Errorf("task service is closed")
	default:
	}

	taskID := s.nextTaskID()
	task := &Task{
		ID:        taskID,
		Status:    StatusPending,
		Operation: op,
		Args:      args,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.tasks[taskID] = task
	s.mu.Unlock()

	select {
	case s.queue <- taskID:
		observability.Info("task_submitted", map[string]any{"task_id": taskID, "operation": op})
		return taskID, nil
	default:
		s.mu.Lock()
		delete(s.tasks, taskID)
		s.mu.Unlock()
		return "", fmt.Errorf("task queue is full")
	}
}

func (s *Service) nextTaskID() string {
	seq := atomic.AddUint64(&s.seq, 1)
	return fmt.Sprintf("task-%d-%d", time.Now().UnixNano(), seq)
}

func (s *Service) execute(taskID string) {
	s.mu.Lock()
	task := s.tasks[taskID]
	if task == nil || task.Status != StatusPending {
		s.mu.Unlock()
		return
	}
	task.Status = StatusRunning
	task.StartedAt = time.Now()
	op, args := task.Operation, task.Args
	s.mu.Unlock()

	result, err := s.dispatcher.Dispatch(op, args)
	endedAt := time.Now()

	s.mu.Lock()
	stored := s.tasks[taskID]
	stored.EndedAt = endedAt
	if err != nil {
		stored.Status = StatusFailed
		stored.Error = err.Error()
		if stage, ok := engine.StageOf(err); ok {
			stored.Stage = string(stage)
		}
	} else {
		stored.Status = StatusSucceeded
		stored.Result = json.RawMessage(result)
	}
	snapshot := *stored
	s.mu.Unlock()

	fields := map[string]any{
		"task_id":     taskID,
		"operation":   op,
		"status":      snapshot.Status,
		"duration_ms": endedAt.Sub(snapshot.StartedAt).Milliseconds(),
	}
	if snapshot.Stage != "" {
		fields["stage"] = snapshot.Stage
	}
	observability.Info("task_finished", fields)

	if s.cfg.History != nil {
		if err := s.cfg.History.SaveTask(context.Background(), snapshot); err != nil {
			observability.Warn("task_history_save_failed", map[string]any{"task_id": taskID, "reason": err.Error()})
		}
	}
}

func (s *Service) GetTaskStatus(taskID string) (*Task, bool) {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	if ok {
		copyTask := *task
		s.mu.RUnlock()
		return &copyTask, true
	}
	s.mu.RUnlock()

	if s.cfg.History == nil {
		return nil, false
	}
	stored, found, err := s.cfg.History.GetTask(context.Background(), taskID)
	if err != nil || !found {
		return nil, false
	}
	return stored, true
}

// List returns the tasks known to this process, newest first.
func (s *Service) List() []Task {
	s.mu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, *task)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListRecentTasks prefers persisted history so finished tasks from earlier
// runs stay visible.
func (s *Service) ListRecentTasks(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.cfg.History != nil {
		return s.cfg.History.ListRecentTasks(ctx, limit)
	}
	out := s.List()
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
