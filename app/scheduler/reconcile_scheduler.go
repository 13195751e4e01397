// Package scheduler runs the periodic reconciliation of pending sends
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Reconciler is the part of the reconciliation flow the scheduler drives
type Reconciler interface {
	ReconcileAll(ctx context.Context) error
}

// ReconcileScheduler triggers a reconciliation pass on a cron schedule
type ReconcileScheduler struct {
	reconciler Reconciler
	spec       string
	runTimeout time.Duration
	logger     *log.Logger
	parser     cron.Parser
}

func NewReconcileScheduler(reconciler Reconciler, spec string, runTimeout time.Duration, logger *log.Logger) *ReconcileScheduler {
	if spec == "" {
		spec = "@every 1m"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ReconcileScheduler{
		reconciler: reconciler,
		spec:       spec,
		runTimeout: runTimeout,
		logger:     logger,
		parser:     cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// NewSchedulerLogger writes to stdout and a rotating file at path. An empty path logs to stdout only.
func NewSchedulerLogger(path string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) *log.Logger {
	var w io.Writer = os.Stdout
	if path != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		})
	}
	// log.Logger is goroutine-safe; include timestamps with microseconds and UTC
	return log.New(w, "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Start registers the job and returns a stop function that waits for a running pass
func (s *ReconcileScheduler) Start(parent context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(parent)

	cronLogger := cron.VerbosePrintfLogger(s.logger)
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if _, err := c.AddFunc(s.spec, func() { s.runOnce(ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", s.spec, err)
	}

	c.Start()
	s.logger.Printf("scheduler: reconcile scheduled spec=%q", s.spec)

	return func() {
		cancel()
		<-c.Stop().Done()
	}, nil
}

func (s *ReconcileScheduler) runOnce(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx := parent
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.runTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.reconciler.ReconcileAll(ctx); err != nil {
		s.logger.Printf("scheduler: reconcile pass failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return
	}
	s.logger.Printf("scheduler: reconcile pass finished in %s", time.Since(start).Round(time.Millisecond))
}
