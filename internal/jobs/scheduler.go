package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// jobRunTimeout bounds a single run of any scheduled job.
const jobRunTimeout = 5 * time.Minute

// Job is a named unit of scheduled background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs background jobs on fixed intervals or cron
// expressions, pinned to UTC. Each instance gets its own ID so logs
// from overlapping deployments can be told apart.
type Scheduler struct {
	scheduler  gocron.Scheduler
	instanceID string
}

// NewScheduler creates an empty scheduler. Jobs only run after Start.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler:  s,
		instanceID: uuid.New().String(),
	}, nil
}

// RegisterInterval schedules a job to run every interval.
func (s *Scheduler) RegisterInterval(job Job, interval time.Duration) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.runJob(job) }),
		gocron.WithName(job.Name()),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.Name(), err)
	}
	logrus.Infof("⏰ [JOBS] Registered %s every %s", job.Name(), interval)
	return nil
}

// RegisterCron schedules a job on a five-field cron expression. The
// expression is validated up front so a bad one fails startup instead
// of silently never firing.
func (s *Scheduler) RegisterCron(job Job, expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q for job %s: %w", expr, job.Name(), err)
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(func() { s.runJob(job) }),
		gocron.WithName(job.Name()),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.Name(), err)
	}
	logrus.Infof("⏰ [JOBS] Registered %s on cron %q", job.Name(), expr)
	return nil
}

func (s *Scheduler) runJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobRunTimeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		logrus.Errorf("❌ [JOBS] %s failed after %s: %v", job.Name(), time.Since(start).Round(time.Millisecond), err)
		return
	}
	logrus.Debugf("✅ [JOBS] %s completed in %s", job.Name(), time.Since(start).Round(time.Millisecond))
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	logrus.Infof("🚀 [JOBS] Scheduler started with %d jobs (instance: %s)", len(s.scheduler.Jobs()), s.instanceID)
}

// Stop shuts the scheduler down, waiting for in-flight runs.
func (s *Scheduler) Stop() error {
	logrus.Info("🛑 [JOBS] Stopping scheduler...")
	return s.scheduler.Shutdown()
}
