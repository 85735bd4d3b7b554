package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"feedshop-rewards/pkg/eventbus"
	"feedshop-rewards/pkg/logger"
	"feedshop-rewards/pkg/repository"
	"feedshop-rewards/pkg/sequence"
	taskq "feedshop-rewards/pkg/task"
	"feedshop-rewards/pkg/taskname"
	"feedshop-rewards/services/ledger"
	"feedshop-rewards/services/reward"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	node     *snowflake.Node
	seq      sequence.Generator
	enqueuer taskq.Enqueuer
	expirer  Expirer
	rewards  Rewards
	events   eventbus.Publisher
	now      func() time.Time

	jobs repository.Repository[Job]
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Seq       sequence.Generator `optional:"true"`
	Enqueuer  taskq.Enqueuer     `optional:"true"`
	Ledger    *ledger.Service
	Rewards   *reward.Service
	Publisher eventbus.Publisher `optional:"true"`
}

func NewService(p Params) *Service {
	s := &Service{
		node:     p.Node,
		seq:      p.Seq,
		enqueuer: p.Enqueuer,
		expirer:  p.Ledger,
		rewards:  p.Rewards,
		events:   p.Publisher,
		now:      time.Now,
		jobs:     repository.ProvideStore[Job](p.DB),
	}
	if s.events == nil {
		s.events = eventbus.Nop{}
	}
	return s
}

func queueFor(name string) string {
	switch name {
	case taskname.RewardProcessPending:
		return taskq.QueueCritical
	case taskname.RewardBirthdayRun:
		return taskq.QueueLow
	default:
		return taskq.QueueDefault
	}
}

func (s *Service) jobCode(ctx context.Context) (string, error) {
	if s.seq != nil {
		code, err := s.seq.NextJobCode(ctx)
		if err == nil {
			return code, nil
		}
		logger.L(ctx).Warn("sequence unavailable, falling back to random job code", zap.Error(err))
	}
	return sequence.RandomCode(sequence.PrefixJob)
}

// Enqueue creates a pending Job record and sends the task to the asynq queue.
func (s *Service) Enqueue(ctx context.Context, name string, asOf *time.Time) (*Job, error) {
	if s.enqueuer == nil {
		return nil, fmt.Errorf("task enqueuer is not configured")
	}

	code, err := s.jobCode(ctx)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:       s.node.Generate().String(),
		Code:     code,
		TaskName: name,
		Status:   JobPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(jobPayload{JobID: job.ID, AsOf: asOf})
	if err != nil {
		return nil, err
	}

	queue := queueFor(name)
	if _, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(name, payload), asynq.Queue(queue)); err != nil {
		_ = s.jobs.Update(ctx, job.ID, map[string]any{
			"status":    JobFailed,
			"error_msg": err.Error(),
		})
		job.Status = JobFailed
		return job, err
	}

	logger.L(ctx).Info("enqueued job",
		zap.String("task", name),
		zap.String("queue", queue),
		zap.String("job_id", job.ID),
		zap.String("job_code", job.Code),
	)
	return job, nil
}

// ErrAlreadyQueued is returned by EnqueueUnique while an identical task still holds its uniqueness lock.
var ErrAlreadyQueued = errors.New("task already queued")

// EnqueueUnique sends name with an empty payload under an asynq uniqueness lock held for ttl, so at most one
// copy waits in the queue. The job record is created when a worker picks the task up.
func (s *Service) EnqueueUnique(ctx context.Context, name string, ttl time.Duration) error {
	if s.enqueuer == nil {
		return fmt.Errorf("task enqueuer is not configured")
	}

	queue := queueFor(name)
	info, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(name, nil), asynq.Queue(queue), asynq.Unique(ttl))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		logger.L(ctx).Info("task already queued", zap.String("task", name), zap.Duration("ttl", ttl))
		return ErrAlreadyQueued
	}
	if err != nil {
		return err
	}

	logger.L(ctx).Info("enqueued unique task",
		zap.String("task", name),
		zap.String("queue", queue),
		zap.String("task_id", info.ID),
	)
	return nil
}

// Register binds every batch task handler to the worker mux.
func (s *Service) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.RewardProcessPending, s.HandleProcessPending)
	mux.HandleFunc(taskname.PointExpiryRun, s.HandlePointExpiry)
	mux.HandleFunc(taskname.RewardBirthdayRun, s.HandleBirthday)
}

func (s *Service) HandleProcessPending(ctx context.Context, t *asynq.Task) error {
	return s.handle(ctx, t, func(ctx context.Context, _ time.Time) (any, error) {
		return s.rewards.ProcessPendingRewards(ctx)
	})
}

func (s *Service) HandlePointExpiry(ctx context.Context, t *asynq.Task) error {
	return s.handle(ctx, t, func(ctx context.Context, asOf time.Time) (any, error) {
		res, err := s.expirer.ExpirePoints(ctx, asOf)
		if err != nil {
			return nil, err
		}
		if res.Points > 0 {
			if err := s.events.Publish(ctx, eventbus.NewEvent(eventbus.PointsExpired, "", res)); err != nil {
				logger.L(ctx).Warn("failed to publish expiry event", zap.Error(err))
			}
		}
		return res, nil
	})
}

func (s *Service) HandleBirthday(ctx context.Context, t *asynq.Task) error {
	return s.handle(ctx, t, func(ctx context.Context, asOf time.Time) (any, error) {
		return s.rewards.RunBirthdayRewards(ctx, asOf)
	})
}

func (s *Service) handle(ctx context.Context, t *asynq.Task, fn func(ctx context.Context, asOf time.Time) (any, error)) error {
	var payload jobPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.L(ctx).Error("invalid task payload", zap.String("task", t.Type()), zap.Error(err))
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}

	asOf := s.now()
	if payload.AsOf != nil {
		asOf = *payload.AsOf
	}

	job, err := s.start(ctx, t.Type(), payload.JobID)
	if err != nil {
		return err
	}

	log := logger.L(ctx).With(zap.String("task", t.Type()), zap.String("job_id", job.ID))
	log.Info("processing task")

	result, runErr := fn(ctx, asOf)
	s.finish(ctx, job, result, runErr)
	if runErr != nil {
		log.Error("task failed", zap.Error(runErr))
		return runErr
	}

	log.Info("finished task")
	return nil
}

// start marks the job running, creating the record when the task was enqueued without one.
func (s *Service) start(ctx context.Context, name, jobID string) (*Job, error) {
	now := s.now()

	if jobID != "" {
		job, err := s.jobs.FindOne(ctx, &Job{ID: jobID})
		if err != nil {
			return nil, err
		}
		if job != nil {
			if err := s.jobs.Update(ctx, job.ID, map[string]any{
				"status":     JobRunning,
				"started_at": now,
			}); err != nil {
				return nil, err
			}
			job.Status = JobRunning
			job.StartedAt = &now
			return job, nil
		}
	}

	code, err := s.jobCode(ctx)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:        s.node.Generate().String(),
		Code:      code,
		TaskName:  name,
		Status:    JobRunning,
		StartedAt: &now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) finish(ctx context.Context, job *Job, result any, runErr error) {
	fields := map[string]any{
		"status":       JobSuccess,
		"completed_at": s.now(),
	}
	if runErr != nil {
		fields["status"] = JobFailed
		fields["error_msg"] = runErr.Error()
	}
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			fields["metadata"] = datatypes.JSON(b)
		}
	}

	if err := s.jobs.Update(ctx, job.ID, fields); err != nil {
		logger.L(ctx).Error("failed to update job status", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// GetJob returns the job record, or nil when it does not exist.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.jobs.FindOne(ctx, &Job{ID: id})
}
