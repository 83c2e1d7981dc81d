// Package usage enforces per-user daily quotas on AI synthesis.
package usage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/research"
)

// ErrQuotaExceeded is returned when a user has no AI calls left today.
var ErrQuotaExceeded = errors.New("daily AI usage limit reached")

// Limits are daily AI call allowances per tier.
type Limits struct {
	Free    int
	Premium int
}

// DefaultLimits mirrors the service's out-of-the-box tiers.
func DefaultLimits() Limits {
	return Limits{Free: 10, Premium: 100}
}

// Stats describes a user's usage for the current UTC day.
type Stats struct {
	UserID     string `json:"user_id"`
	Date       string `json:"date"`
	DailyUsage int    `json:"daily_usage"`
	DailyLimit int    `json:"daily_limit"`
	Remaining  int    `json:"remaining"`
	CanUseAI   bool   `json:"can_use_ai"`
}

// Tracker counts AI calls per user per UTC day. Counters for past days are
// dropped on rollover.
type Tracker struct {
	mu     sync.Mutex
	limits Limits
	clock  research.Clock
	logger *zap.Logger
	day    string
	counts map[string]int
}

// NewTracker constructs a Tracker.
func NewTracker(limits Limits, clock research.Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &Tracker{
		limits: limits,
		clock:  clock,
		logger: logger,
		counts: make(map[string]int),
	}
}

// Consume reserves one AI call for the user, returning ErrQuotaExceeded when
// the tier's daily limit is spent.
func (t *Tracker) Consume(userID string, premium bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	limit := t.limitFor(premium)
	used := t.counts[userID]
	if used >= limit {
		t.logger.Info("ai usage limit reached",
			zap.String("user_id", userID),
			zap.Int("daily_usage", used),
			zap.Int("daily_limit", limit),
		)
		return fmt.Errorf("%w (%d/%d)", ErrQuotaExceeded, used, limit)
	}
	t.counts[userID] = used + 1
	return nil
}

// Stats reports the user's usage for today.
func (t *Tracker) Stats(userID string, premium bool) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	limit := t.limitFor(premium)
	used := t.counts[userID]
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		UserID:     userID,
		Date:       t.day,
		DailyUsage: used,
		DailyLimit: limit,
		Remaining:  remaining,
		CanUseAI:   used < limit,
	}
}

// Reset clears all counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = make(map[string]int)
}

// Close releases tracker state at shutdown.
func (t *Tracker) Close() {
	t.Reset()
}

func (t *Tracker) limitFor(premium bool) int {
	if premium {
		return t.limits.Premium
	}
	return t.limits.Free
}

func (t *Tracker) rolloverLocked() {
	today := t.clock.Now().UTC().Format(time.DateOnly)
	if today != t.day {
		t.day = today
		t.counts = make(map[string]int)
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
