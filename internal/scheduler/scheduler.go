package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SourceRunner runs one complete scrape pass of a source
type SourceRunner interface {
	RunSource(ctx context.Context, source string) error
}

// Scheduler triggers periodic passes for every configured source. A source
// never has two passes running at once; a tick that finds its source busy
// is skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  SourceRunner
	logger  *logrus.Logger
	sources []string
	spec    string

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a new scheduler firing on spec, e.g. "@every 1h"
func NewScheduler(runner SourceRunner, sources []string, spec string, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cron.PrintfLogger(logger))),
		runner:  runner,
		logger:  logger,
		sources: sources,
		spec:    spec,
		running: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers one job per source, starts cron and runs every source
// once right away
func (s *Scheduler) Start() error {
	for _, source := range s.sources {
		source := source
		if _, err := s.cron.AddFunc(s.spec, func() { s.RunNow(source) }); err != nil {
			return fmt.Errorf("cron.AddFunc: %w", err)
		}
	}
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"spec":    s.spec,
		"sources": s.sources,
	}).Info("Scheduler started")

	for _, source := range s.sources {
		go s.RunNow(source)
	}
	return nil
}

// RunNow runs a pass of source unless one is already running. It reports
// whether the pass ran.
func (s *Scheduler) RunNow(source string) bool {
	s.mu.Lock()
	if s.running[source] || s.ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.WithField("source", source).Debug("Skipping scrape job, source busy or stopping")
		return false
	}
	s.running[source] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, source)
		s.mu.Unlock()
		s.wg.Done()
	}()

	log := s.logger.WithField("source", source)
	log.Info("Starting scrape job")
	if err := s.runner.RunSource(s.ctx, source); err != nil {
		log.WithError(err).Error("Scrape job failed")
	} else {
		log.Info("Scrape job completed successfully")
	}
	return true
}

// Stop gracefully stops the scheduler, cancelling running passes
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}
