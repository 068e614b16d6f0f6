// Package stats tracks per-rule hit counters over the cache's counter
// API. Counters are observability only: losing them never affects a
// classification outcome.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-dialog/shrike/internal/domain"
)

// Window is how long a rule hit counter accumulates before expiring.
const Window = 24 * time.Hour

// Service records and reads rule hit counters.
type Service struct {
	cache domain.Cache
}

// NewService creates a stats service over a cache.
func NewService(cache domain.Cache) *Service {
	return &Service{cache: cache}
}

// RecordHit bumps the winning rule's counter. Best effort.
func (s *Service) RecordHit(ctx context.Context, ruleID string) {
	if s.cache == nil || ruleID == "" {
		return
	}
	if _, err := s.cache.IncrementCounter(ctx, counterKey(ruleID), Window); err != nil {
		slog.Debug("failed to record rule hit", "rule_id", ruleID, "error", err)
	}
}

// Hits reads a rule's counter. Returns 0 on any failure.
func (s *Service) Hits(ctx context.Context, ruleID string) int64 {
	if s.cache == nil {
		return 0
	}
	n, err := s.cache.GetCounter(ctx, counterKey(ruleID))
	if err != nil {
		return 0
	}
	return n
}

func counterKey(ruleID string) string {
	return "hits:" + ruleID
}
