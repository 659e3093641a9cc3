package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/vaultmind/vaultmind/config"
	"github.com/vaultmind/vaultmind/internal/store"
)

// Scheduler runs retention sweeps: expired password reset tokens and chat
// sessions idle past their TTL.
type Scheduler struct {
	Store  *store.Store
	Rdb    *redis.Client
	Cfg    config.RetentionConfig
	Stop   chan struct{}
	Logger *log.Logger
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[RETENTION] ", log.LstdFlags)
	}
	expr, err := cronexpr.Parse(s.Cfg.Cron)
	if err != nil {
		s.Logger.Printf("invalid cron %q, falling back to daily: %v", s.Cfg.Cron, err)
		expr = cronexpr.MustParse("0 3 * * *")
	}
	go func() {
		for {
			next := expr.Next(time.Now())
			if next.IsZero() {
				s.Logger.Printf("cron %q yields no future run, stopping", s.Cfg.Cron)
				return
			}
			select {
			case <-s.Stop:
				return
			case <-time.After(time.Until(next)):
				s.sweep()
			}
		}
	}()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// one sweeper across replicas
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, "retention:lock", "1", 10*time.Minute).Result()
		if err != nil {
			s.Logger.Printf("retention lock: %v", err)
		}
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, "retention:lock")
	}

	if n, err := s.Store.DeleteExpiredResetTokens(ctx); err != nil {
		s.Logger.Printf("purge reset tokens: %v", err)
	} else if n > 0 {
		s.Logger.Printf("purged %d expired reset tokens", n)
	}

	ttl := s.Cfg.SessionTTL
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	if n, err := s.Store.DeleteStaleSessions(ctx, ttl); err != nil {
		s.Logger.Printf("purge stale sessions: %v", err)
	} else if n > 0 {
		s.Logger.Printf("purged %d stale sessions", n)
	}
}
