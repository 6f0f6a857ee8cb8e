package telehealth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically removes idle sessions from a Registry.
type Sweeper struct {
	sessions  *Registry
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSweeper(sessions *Registry, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "session-sweeper").Logger(),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in the background until ctx is cancelled or
// Stop is called. Only the first call has an effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx)
		}()
	})
}

// Stop ends the loop and waits for it to exit. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// Run sweeps in the foreground until ctx is cancelled or Stop is called.
func (s *Sweeper) Run(ctx context.Context) error {
	s.loop(ctx)
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("session sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("session sweeper stopped")
			return
		case <-s.done:
			s.log.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce removes every session idle past the registry's timeout and
// returns how many were removed.
func (s *Sweeper) SweepOnce() int {
	expired := s.sessions.Sweep(s.now())
	if len(expired) > 0 {
		s.log.Info().Int("expired", len(expired)).Int("remaining", s.sessions.Len()).Msg("idle sessions removed")
	}
	return len(expired)
}
