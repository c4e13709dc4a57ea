package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingEvictor struct {
	calls atomic.Int32
	block chan struct{}
}

func (e *countingEvictor) EvictIdle(context.Context) int {
	e.calls.Add(1)
	if e.block != nil {
		<-e.block
	}
	return 2
}

func TestSweepReportsEvicted(t *testing.T) {
	e := &countingEvictor{}
	j := NewSessionJanitor(e, time.Minute)

	assert.Equal(t, 2, j.Sweep(context.Background()))
	assert.Equal(t, int32(1), e.calls.Load())
	assert.False(t, j.LastSweep().IsZero())
}

func TestSweepSkipsWhileRunning(t *testing.T) {
	e := &countingEvictor{block: make(chan struct{})}
	j := NewSessionJanitor(e, time.Minute)

	done := make(chan int)
	go func() { done <- j.Sweep(context.Background()) }()
	assert.Eventually(t, func() bool { return e.calls.Load() == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 0, j.Sweep(context.Background()))
	close(e.block)
	assert.Equal(t, 2, <-done)
	assert.Equal(t, int32(1), e.calls.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	e := &countingEvictor{}
	j := NewSessionJanitor(e, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return e.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
