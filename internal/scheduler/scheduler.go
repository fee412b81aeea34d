package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ryanoZphoto/aws/internal/config"
	"github.com/ryanoZphoto/aws/internal/domain"
	"github.com/ryanoZphoto/aws/internal/events"
	"github.com/ryanoZphoto/aws/internal/repo"
)

// Executor runs one task to a terminal execution. The engine satisfies this.
type Executor interface {
	Execute(ctx context.Context, taskID string, credentialID *string) (domain.TaskExecution, error)
}

// Outcome is the per-task record of one sweep. A sweep reports every due
// task, failed ones included.
type Outcome struct {
	TaskID      string                 `json:"task_id"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Status      domain.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
}

// Scheduler sweeps recurring tasks on their cadence. Each sweep runs its due
// tasks through a bounded pool; one task's failure never stops the rest.
type Scheduler struct {
	Repo          repo.Repo
	Exec          Executor
	Events        events.Writer
	Log           zerolog.Logger
	MaxConcurrent int
	TaskTimeout   time.Duration

	cron *cron.Cron
}

func New(r repo.Repo, exec Executor, cfg *config.Config, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Repo:          r,
		Exec:          exec,
		Events:        events.Writer{DB: r.DB},
		Log:           log,
		MaxConcurrent: cfg.Scheduler.MaxConcurrentTasks,
		TaskTimeout:   time.Duration(cfg.Scheduler.TaskTimeoutSeconds) * time.Second,
	}
}

// Start registers the daily, weekly and monthly sweeps and begins the cron
// loop. Cadences are evaluated in UTC.
func (s *Scheduler) Start() {
	s.cron = cron.New(cron.WithLocation(time.UTC))
	entries := []struct {
		spec string
		freq domain.TaskFrequency
	}{
		{"@daily", domain.FrequencyDaily},
		{"@weekly", domain.FrequencyWeekly},
		{"@monthly", domain.FrequencyMonthly},
	}
	for _, e := range entries {
		freq := e.freq
		s.cron.AddFunc(e.spec, func() {
			if _, err := s.Sweep(context.Background(), freq); err != nil {
				s.Log.Error().Err(err).Str("frequency", string(freq)).Msg("sweep failed")
			}
		})
	}
	s.cron.Start()
}

// Stop halts the cron loop and returns a context that closes once running
// jobs drain.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// Sweep executes every active task on the given cadence and reports one
// outcome per task, in listing order. The error return covers only the task
// listing itself.
func (s *Scheduler) Sweep(ctx context.Context, freq domain.TaskFrequency) ([]Outcome, error) {
	tasks, err := s.Repo.ListDueTasks(ctx, freq)
	if err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, len(tasks))

	limit := s.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, task domain.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = s.runOne(ctx, task)
		}(i, task)
	}
	wg.Wait()

	var failed int
	for _, o := range outcomes {
		if o.Status != domain.StatusSuccess {
			failed++
		}
	}
	s.Log.Info().
		Str("frequency", string(freq)).
		Int("tasks", len(tasks)).
		Int("failed", failed).
		Msg("sweep completed")
	if err := s.recordSweep(ctx, freq, len(tasks), failed); err != nil {
		s.Log.Error().Err(err).Msg("record sweep event")
	}
	return outcomes, nil
}

func (s *Scheduler) recordSweep(ctx context.Context, freq domain.TaskFrequency, tasks, failed int) error {
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Events.Append(ctx, tx, "sweep.completed", "", "sweep", string(freq),
		events.EventPayload{"tasks": tasks, "failed": failed}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Scheduler) runOne(ctx context.Context, task domain.Task) Outcome {
	timeout := s.TaskTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	o := Outcome{TaskID: task.ID}
	exec, err := s.Exec.Execute(tctx, task.ID, nil)
	o.ExecutionID = exec.ID
	o.Status = exec.Status
	if err != nil {
		o.Error = err.Error()
		s.Log.Warn().
			Str("task_id", task.ID).
			Str("execution_id", exec.ID).
			Err(err).
			Msg("scheduled task failed")
	}
	return o
}
