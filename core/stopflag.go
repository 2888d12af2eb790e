package core

import "sync"

// StopFlag is a cooperative completion signal for long-running components.
//
// It behaves like a boolean that starts false and is set true once per
// execution cycle, but additionally broadcasts the transition: Done returns
// a channel that is closed the instant Set is called, so supervisors can
// block instead of polling. Reset re-arms the flag for the next cycle.
// A StopFlag is safe for concurrent use; the zero value is ready to use.
type StopFlag struct {
	mu   sync.Mutex
	set  bool
	done chan struct{}
}

// NewStopFlag returns an unset flag.
func NewStopFlag() *StopFlag {
	return &StopFlag{}
}

func (f *StopFlag) lazyInit() {
	if f.done == nil {
		f.done = make(chan struct{})
	}
}

// Set marks the flag true. Calling Set on an already set flag is a no-op.
func (f *StopFlag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lazyInit()
	if f.set {
		return
	}
	f.set = true
	close(f.done)
}

// Reset re-arms the flag (false) with a fresh Done channel.
func (f *StopFlag) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.set && f.done != nil {
		return
	}
	f.set = false
	f.done = make(chan struct{})
}

// IsSet reports whether the flag is currently true.
func (f *StopFlag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Done returns a channel closed when the flag becomes true. The channel
// belongs to the current cycle; after Reset callers must call Done again.
func (f *StopFlag) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lazyInit()
	return f.done
}
