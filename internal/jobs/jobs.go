// Package jobs runs the relay's periodic maintenance on cron schedules:
// send-log pruning and trial expiry reminders.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/pkg/logx"
)

const (
	PruneSendLog = "prune_send_log"
	RemindTrials = "remind_trials"

	DefaultPruneSpec  = "@hourly"
	DefaultRemindSpec = "0 0 10 * * *"
	defaultTimeout    = 2 * time.Minute
)

type Config struct {
	Timezone   string // IANA name, empty for UTC
	PruneSpec  string
	RemindSpec string
	Retention  time.Duration
}

type SendLog interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Reminders interface {
	RemindTrials(ctx context.Context) (int, error)
}

type Recorder interface {
	JobRun(job, status string)
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

type Scheduler struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]job
	rec    Recorder
	now    func() time.Time
}

func New(cfg Config, sendLog SendLog, reminders Reminders, rec Recorder, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PruneSpec == "" {
		cfg.PruneSpec = DefaultPruneSpec
	}
	if cfg.RemindSpec == "" {
		cfg.RemindSpec = DefaultRemindSpec
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 48 * time.Hour
	}
	s := &Scheduler{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "jobs")),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   map[string]job{},
		rec:    rec,
		now:    time.Now,
	}
	if sendLog != nil {
		s.jobs[PruneSendLog] = job{name: PruneSendLog, spec: cfg.PruneSpec, run: func(ctx context.Context) error {
			n, err := sendLog.PruneBefore(ctx, s.now().Add(-s.cfg.Retention))
			if err == nil && n > 0 {
				s.log.Info("send log pruned", logx.Int64("rows", n))
			}
			return err
		}}
	}
	if reminders != nil {
		s.jobs[RemindTrials] = job{name: RemindTrials, spec: cfg.RemindSpec, run: func(ctx context.Context) error {
			n, err := reminders.RemindTrials(ctx)
			if n > 0 {
				s.log.Info("trial reminders sent", logx.Int("chats", n))
			}
			return err
		}}
	}
	return s
}

// Start registers every job and starts triggering. It fails on an invalid
// schedule or timezone.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, j := range s.jobs {
		j := j
		if _, err := c.AddFunc(j.spec, func() { _ = s.execute(j) }); err != nil {
			s.cancel()
			return fmt.Errorf("job %s: bad schedule %q: %w", j.name, j.spec, err)
		}
	}
	c.Start()
	s.c = c
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts triggering and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()
	s.log.Info("scheduler stopped")
}

// RunNow executes a job synchronously outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, j)
}

// Next reports when name fires next; zero when not scheduled.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	j, ok := s.jobs[name]
	if !ok {
		return time.Time{}
	}
	sched, err := s.parser.Parse(j.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(s.now().In(s.c.Location()))
}

func (s *Scheduler) execute(j job) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	err := j.run(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		s.log.Warn("job failed", logx.String("job", j.name), logx.Duration("took", time.Since(start)), logx.Err(err))
	} else {
		s.log.Debug("job done", logx.String("job", j.name), logx.Duration("took", time.Since(start)))
	}
	if s.rec != nil {
		s.rec.JobRun(j.name, status)
	}
	return err
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
