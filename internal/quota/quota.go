// Package quota tracks the advisory usage snapshot for the anonymization
// service. The service enforces the real limit; the gate only stops runs
// that are certain to be rejected.
package quota

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/faceless-tools/faceless/internal/anonymizer"
)

// Source provides the current usage numbers, typically the anonymizer client.
type Source interface {
	RateLimit(ctx context.Context) (*anonymizer.RateLimit, error)
}

// Gate holds the last known usage snapshot and decides whether a run may
// start. Safe for concurrent use.
type Gate struct {
	source   Source
	logger   *zap.Logger
	snapshot *anonymizer.RateLimit
	mu       sync.RWMutex
}

// NewGate creates a gate with no snapshot. Until the first successful
// refresh the quota is unknown and runs are permitted.
func NewGate(source Source, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{source: source, logger: logger}
}

// Refresh fetches the current usage and replaces the snapshot wholesale.
// A fetch failure keeps the previous snapshot and is only logged; the gate
// must never block runs because the usage endpoint was unreachable.
func (g *Gate) Refresh(ctx context.Context) {
	limit, err := g.source.RateLimit(ctx)
	if err != nil {
		g.logger.Warn("could not refresh rate limit", zap.Error(err))
		return
	}

	g.mu.Lock()
	g.snapshot = limit
	g.mu.Unlock()

	g.logger.Debug("rate limit refreshed",
		zap.Int("used", limit.Used),
		zap.Int("remaining", limit.Remaining),
		zap.Int("limit", limit.Limit),
	)
}

// CanStart reports whether a run may begin. An unknown quota permits the
// run; the service answers with a 429 if it disagrees.
func (g *Gate) CanStart() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshot == nil || g.snapshot.Remaining > 0
}

// Snapshot returns the last known usage and whether one exists.
func (g *Gate) Snapshot() (anonymizer.RateLimit, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.snapshot == nil {
		return anonymizer.RateLimit{}, false
	}
	return *g.snapshot, true
}
