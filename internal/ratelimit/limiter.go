package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/metrics"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
)

// Rejection reasons
const (
	ReasonWindowLimit = "window limit exceeded"
	ReasonDailyLimit  = "daily limit exceeded"
)

// Audit log entry types
const (
	LogExceeded         = "exceeded"
	LogApproachingDaily = "approaching_daily_limit"
)

// warnFraction is the share of the daily ceiling that triggers a
// one-time approaching-limit warning per crossing
const warnFraction = 0.8

// CounterStore is the counter persistence the limiter needs
type CounterStore interface {
	Get(ctx context.Context, accountID string) (*model.RateLimitCounter, error)
	Put(ctx context.Context, c *model.RateLimitCounter) error
	Log(ctx context.Context, accountID, logType string, count int, windowKey string) error
}

// Config contains rate limit ceilings
type Config struct {
	Window    time.Duration
	WindowMax int
	DailyMax  int
}

// Result is a rate limit decision
type Result struct {
	Allowed bool
	Reason  string
}

// Limiter admits or rejects requests per account using a fixed time
// window plus a rolling daily cap. Counter evaluation is serialized so
// concurrent requests cannot undercount past a ceiling.
type Limiter struct {
	store   CounterStore
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu  sync.Mutex
	now func() time.Time
}

// NewLimiter creates a new rate limiter
func NewLimiter(store CounterStore, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// CheckAndConsume evaluates the request for an account and consumes a
// slot when allowed. If the counter store is unreachable the limiter
// fails open: processing availability wins over strict enforcement.
func (l *Limiter) CheckAndConsume(ctx context.Context, accountID string) *Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := now.UnixMilli() / l.cfg.Window.Milliseconds()
	day := now.UTC().Format("2006-01-02")
	windowKey := fmt.Sprintf("%s:%d", accountID, window)

	counter, err := l.store.Get(ctx, accountID)
	if err != nil {
		l.logger.Error("rate limit store unreachable, failing open", "account_id", accountID, "error", err)
		return &Result{Allowed: true}
	}

	// A new window resets the counter; its first request is always
	// admitted and consumes the first slot
	if counter == nil || counter.LastWindow != window {
		daily := 0
		if counter != nil && counter.LastDay == day {
			daily = counter.DailyCount
		}
		next := &model.RateLimitCounter{
			AccountID:   accountID,
			WindowCount: 1,
			DailyCount:  daily + 1,
			LastWindow:  window,
			LastDay:     day,
		}
		if err := l.store.Put(ctx, next); err != nil {
			l.logger.Error("failed to reset rate limit counter, failing open", "account_id", accountID, "error", err)
			return &Result{Allowed: true}
		}
		l.warnIfApproaching(ctx, accountID, daily, next.DailyCount, windowKey)
		return &Result{Allowed: true}
	}

	if counter.LastDay != day {
		counter.DailyCount = 0
		counter.LastDay = day
	}

	if l.cfg.WindowMax > 0 && counter.WindowCount >= l.cfg.WindowMax {
		l.reject(ctx, accountID, ReasonWindowLimit, counter.WindowCount, windowKey)
		return &Result{Allowed: false, Reason: ReasonWindowLimit}
	}
	if l.cfg.DailyMax > 0 && counter.DailyCount >= l.cfg.DailyMax {
		l.reject(ctx, accountID, ReasonDailyLimit, counter.DailyCount, windowKey)
		return &Result{Allowed: false, Reason: ReasonDailyLimit}
	}

	before := counter.DailyCount
	counter.WindowCount++
	counter.DailyCount++
	if err := l.store.Put(ctx, counter); err != nil {
		l.logger.Error("failed to persist rate limit counter, failing open", "account_id", accountID, "error", err)
		return &Result{Allowed: true}
	}

	l.warnIfApproaching(ctx, accountID, before, counter.DailyCount, windowKey)

	return &Result{Allowed: true}
}

func (l *Limiter) reject(ctx context.Context, accountID, reason string, count int, windowKey string) {
	l.logger.Warn("rate limit exceeded",
		"account_id", accountID,
		"reason", reason,
		"count", count,
		"window_key", windowKey,
	)
	if l.metrics != nil {
		l.metrics.RateLimitRejectedTotal.WithLabelValues(reason).Inc()
	}
	if err := l.store.Log(ctx, accountID, LogExceeded, count, windowKey); err != nil {
		l.logger.Error("failed to record rate limit audit entry", "account_id", accountID, "error", err)
	}
}

// warnIfApproaching emits the approaching-daily-limit warning exactly
// once per threshold crossing
func (l *Limiter) warnIfApproaching(ctx context.Context, accountID string, before, after int, windowKey string) {
	if l.cfg.DailyMax <= 0 {
		return
	}
	threshold := int(float64(l.cfg.DailyMax) * warnFraction)
	if before >= threshold || after < threshold {
		return
	}

	l.logger.Warn("account approaching daily rate limit",
		"account_id", accountID,
		"daily_count", after,
		"daily_max", l.cfg.DailyMax,
	)
	if err := l.store.Log(ctx, accountID, LogApproachingDaily, after, windowKey); err != nil {
		l.logger.Error("failed to record rate limit audit entry", "account_id", accountID, "error", err)
	}
}
