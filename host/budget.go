package host

import (
	"errors"
	"sync"
	"time"
)

// ErrRestartRequired is returned by Run when consecutive failing cycles
// exhausted the error budget. The process should exit non-zero so its
// supervisor restarts it.
var ErrRestartRequired = errors.New("host: restart required")

// Budget counts consecutive failing cycles. A failing cycle is one that
// saw the backend crash or an unknown UI state; any clean cycle refills
// the budget.
type Budget struct {
	mu          sync.Mutex
	failures    int
	threshold   int
	lastFailure time.Time
	lastErr     error
	now         func() time.Time
}

// NewBudget creates a budget tripping after threshold failures (default 5).
func NewBudget(threshold int) *Budget {
	if threshold <= 0 {
		threshold = 5
	}
	return &Budget{threshold: threshold, now: time.Now}
}

// RecordFailure counts a failing cycle and reports whether the budget is
// now exhausted.
func (b *Budget) RecordFailure(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	b.lastErr = err
	return b.failures >= b.threshold
}

// RecordSuccess refills the budget.
func (b *Budget) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// BudgetState is a snapshot of the budget.
type BudgetState struct {
	Failures    int       `json:"failures"`
	Threshold   int       `json:"threshold"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// State returns the current counters.
func (b *Budget) State() BudgetState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BudgetState{Failures: b.failures, Threshold: b.threshold, LastFailure: b.lastFailure}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	return s
}

// backoff returns base doubled per previous attempt, capped at ceiling.
func backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	wait := base
	for i := 1; i < attempt && wait < ceiling; i++ {
		wait *= 2
	}
	if wait > ceiling {
		wait = ceiling
	}
	return wait
}
