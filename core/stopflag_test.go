package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStopFlag_ZeroValue(t *testing.T) {
	var f StopFlag
	assert.False(t, f.IsSet())

	select {
	case <-f.Done():
		t.Fatal("done channel closed before Set")
	default:
	}
}

func TestStopFlag_SetBroadcasts(t *testing.T) {
	f := NewStopFlag()
	done := f.Done()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}

	f.Set()
	f.Set() // idempotent

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("waiters not released")
	}
	assert.True(t, f.IsSet())
}

func TestStopFlag_ResetRearms(t *testing.T) {
	f := NewStopFlag()
	f.Set()
	old := f.Done()

	f.Reset()
	assert.False(t, f.IsSet())

	select {
	case <-old:
	default:
		t.Fatal("previous cycle channel should stay closed")
	}

	select {
	case <-f.Done():
		t.Fatal("new cycle channel must be open")
	default:
	}

	f.Set()
	<-f.Done()
	assert.True(t, f.IsSet())
}

func TestStopFlag_ResetUnsetKeepsChannel(t *testing.T) {
	f := NewStopFlag()
	ch := f.Done()
	f.Reset()
	f.Set()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter registered before a no-op Reset must still be released")
	}
}
