// Package usage records token consumption in Redis. The recorder is a
// one-way sink: failures are logged and swallowed so accounting can never
// break a chat request.
package usage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Recorder accumulates daily token counters per source tag and per user.
type Recorder struct {
	rdb    *redis.Client
	logger *log.Logger
}

// NewRecorder wraps a Redis client. A nil client yields a recorder that only
// logs, which keeps single-binary deployments working without Redis.
func NewRecorder(rdb *redis.Client, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.New(log.Writer(), "[USAGE] ", log.LstdFlags)
	}
	return &Recorder{rdb: rdb, logger: logger}
}

// Record adds tokens to the day's counters. userID may be empty for
// unauthenticated callers.
func (r *Recorder) Record(ctx context.Context, source string, tokens int64, userID string) {
	if tokens <= 0 {
		return
	}
	if r.rdb == nil {
		r.logger.Printf("source=%s tokens=%d user=%s", source, tokens, userID)
		return
	}

	day := time.Now().UTC().Format("2006-01-02")
	pipe := r.rdb.Pipeline()
	pipe.IncrBy(ctx, fmt.Sprintf("usage:%s:%s", source, day), tokens)
	if userID != "" {
		pipe.IncrBy(ctx, fmt.Sprintf("usage:%s:%s:user:%s", source, day, userID), tokens)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Printf("record failed (source=%s tokens=%d): %v", source, tokens, err)
	}
}
