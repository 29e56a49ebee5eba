// Package warmup runs registered cache warmup sets on a cron schedule.
package warmup

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tiercache/internal/cache"
	"tiercache/internal/common/logging"
)

// runTimeout bounds a single warmup run so a stuck fetcher cannot pin the
// scheduler forever.
const runTimeout = 5 * time.Minute

// Scheduler re-executes named warmup entry sets on cron schedules.
type Scheduler struct {
	service *cache.Service
	cron    *cron.Cron
	logger  logging.Logger

	mu   sync.Mutex
	sets map[string][]cache.WarmupEntry
}

// NewScheduler creates a scheduler bound to a cache service.
func NewScheduler(service *cache.Service, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Scheduler{
		service: service,
		cron:    cron.New(),
		logger:  logger.WithFields(logging.String("component", "warmup")),
		sets:    make(map[string][]cache.WarmupEntry),
	}
}

// Register schedules a named warmup entry set. The spec uses the standard
// five-field cron format. Registering also runs once immediately so the cache
// is warm before the first tick.
func (s *Scheduler) Register(name, spec string, entries []cache.WarmupEntry) error {
	s.mu.Lock()
	s.sets[name] = entries
	s.mu.Unlock()

	_, err := s.cron.AddFunc(spec, func() { s.run(name) })
	if err != nil {
		return err
	}

	s.run(name)
	return nil
}

// Start begins firing registered schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("warmup scheduler started")
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("warmup scheduler stopped")
}

func (s *Scheduler) run(name string) {
	s.mu.Lock()
	entries := s.sets[name]
	s.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	s.logger.Debug("running warmup set",
		logging.String("set", name),
		logging.Int("entries", len(entries)))
	s.service.Warmup(ctx, entries)
}
