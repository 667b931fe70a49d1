package usage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryLedger keeps usage counters in process memory. Counters do not
// survive restarts; it serves tests and deployments that explicitly opt
// out of a persistent on-prem ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{counters: make(map[string]int)}
}

func counterKey(tenantID uuid.UUID, featureKey, period string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, featureKey, period)
}

// TryIncrement atomically checks and commits a usage increment under a
// single mutex; the check and the write cannot interleave.
func (l *MemoryLedger) TryIncrement(_ context.Context, tenantID uuid.UUID, featureKey, period string, increment, quota int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := counterKey(tenantID, featureKey, period)
	if l.counters[key]+increment > quota {
		return false, nil
	}
	l.counters[key] += increment
	return true, nil
}

// Used returns the committed usage for a counter key.
func (l *MemoryLedger) Used(tenantID uuid.UUID, featureKey, period string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters[counterKey(tenantID, featureKey, period)]
}
