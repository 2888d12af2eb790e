package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrModelCallLimit is matched by *LimitError.
var ErrModelCallLimit = errors.New("model call limit reached")

// LimitError is returned once a branch asks for more model calls than its
// budget allows within one chat.
type LimitError struct {
	BranchID string
	Limit    int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("branch %s: exceeded max model calls (%d)", e.BranchID, e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrModelCallLimit }

// ModelLimiter counts the model calls of one branch chat. A limit of 0 is
// unlimited.
type ModelLimiter struct {
	branchID string
	limit    int

	mu    sync.Mutex
	calls int
}

// NewModelLimiter creates a limiter for branchID.
func NewModelLimiter(branchID string, limit int) *ModelLimiter {
	return &ModelLimiter{branchID: branchID, limit: limit}
}

// Acquire records a call, failing with *LimitError when the budget is spent.
// A refused call is not counted.
func (ml *ModelLimiter) Acquire() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.limit > 0 && ml.calls >= ml.limit {
		return &LimitError{BranchID: ml.branchID, Limit: ml.limit}
	}
	ml.calls++
	return nil
}

// Calls returns how many calls were granted.
func (ml *ModelLimiter) Calls() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.calls
}

// Remaining returns the calls left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.limit == 0 {
		return -1
	}
	return ml.limit - ml.calls
}
