package scoring

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExceeded is returned when no classifier call is left in the
// current cycle or day.
var ErrBudgetExceeded = errors.New("classifier budget exceeded")

// Budget bounds external classifier calls. It is created once per cycle:
// perCycle caps calls within the cycle, perDay caps calls across the day
// including those already recorded before the cycle started (0 = no daily cap).
type Budget struct {
	mu        sync.Mutex
	perCycle  int
	perDay    int
	usedToday int
	used      int
}

// NewBudget creates a budget. usedToday is the persisted count of
// classifications already made today.
func NewBudget(perCycle, perDay, usedToday int) *Budget {
	return &Budget{perCycle: perCycle, perDay: perDay, usedToday: usedToday}
}

// TryAcquire reserves one classifier call. It is safe for concurrent use and
// never lets the total exceed either cap.
func (b *Budget) TryAcquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.perCycle {
		return fmt.Errorf("%w: %d/%d this cycle", ErrBudgetExceeded, b.used, b.perCycle)
	}
	if b.perDay > 0 && b.usedToday+b.used >= b.perDay {
		return fmt.Errorf("%w: %d/%d today", ErrBudgetExceeded, b.usedToday+b.used, b.perDay)
	}
	b.used++
	return nil
}

// Used returns how many calls were reserved in this cycle.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
