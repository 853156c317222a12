package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"dramapipe/internal/broker"
	"dramapipe/internal/config"
	"dramapipe/internal/logging"
	"dramapipe/internal/stage"
)

// TaskTypeDaily is the asynq task type for the recurring content producer.
const TaskTypeDaily = "pipeline:daily"

// Scheduler registers the daily production cron with asynq and turns each
// firing into a job submission through the intake. Redis deduplicates the
// cron firing across daemon replicas.
type Scheduler struct {
	cfg       *config.Config
	intake    *Intake
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// NewScheduler constructs the daily scheduler. It returns (nil, nil) when
// daily content production is disabled.
func NewScheduler(cfg *config.Config, intake *Intake, logger *slog.Logger) (*Scheduler, error) {
	if !cfg.Workflow.DailyContentEnabled {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	opt, err := asynq.ParseRedisURI(cfg.Redis.URI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	sched := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.Local})
	s := &Scheduler{
		cfg:       cfg,
		intake:    intake,
		scheduler: sched,
		logger:    logging.NewComponentLogger(logger, "scheduler"),
	}
	spec := cfg.Workflow.DailyCron
	if spec == "" {
		spec = "0 9 * * *"
	}
	task := asynq.NewTask(TaskTypeDaily, nil, asynq.Queue(broker.QueueName), asynq.MaxRetry(0))
	if _, err := sched.Register(spec, task); err != nil {
		return nil, fmt.Errorf("register daily cron %q: %w", spec, err)
	}
	return s, nil
}

// Start launches the cron publisher.
func (s *Scheduler) Start() error {
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	s.logger.Info("daily scheduler started",
		logging.String("cron", s.cfg.Workflow.DailyCron))
	return nil
}

// Shutdown stops the cron publisher.
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}

// HandleDaily consumes one cron firing and submits the day's episode.
// Submission errors are swallowed after logging: the next firing will try
// again, and redelivering a stale cron tick has no value.
func (s *Scheduler) HandleDaily(ctx context.Context, _ *asynq.Task) error {
	title, inputJSON, err := DailyEpisode(s.cfg, time.Now())
	if err != nil {
		s.logger.Error("daily episode assembly failed", logging.Error(err))
		return nil
	}
	job, err := s.intake.Submit(ctx, title, inputJSON)
	if err != nil {
		s.logger.Error("daily submission failed",
			logging.String("title", title),
			logging.Error(err))
		return nil
	}
	s.logger.Info("daily episode admitted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("title", job.Title),
		logging.String(logging.FieldEventType, "daily_submitted"))
	return nil
}

// DailyEpisode derives the title and input brief for the episode of a given
// day from the configured series preset.
func DailyEpisode(cfg *config.Config, day time.Time) (string, string, error) {
	series := cfg.Series.Title
	if series == "" {
		series = "Daily Drama"
	}
	title := fmt.Sprintf("%s - %s", series, day.Format("2006-01-02"))
	input := stage.Input{
		Genre:       cfg.Series.Genre,
		Description: cfg.Series.Description,
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return "", "", fmt.Errorf("encode series input: %w", err)
	}
	return title, string(raw), nil
}
