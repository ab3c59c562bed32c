package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddRunsTaskPeriodically(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var ticks atomic.Int32
	s.Add("t1", func() { ticks.Add(1) }, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveStopsFurtherCalls(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var ticks atomic.Int32
	s.Add("t1", func() { ticks.Add(1) }, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return ticks.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	s.Remove("t1")
	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load())
	assert.Equal(t, 0, s.Len())
}

func TestAddReplacesExistingTask(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var first, second atomic.Int32
	s.Add("t1", func() { first.Add(1) }, 10*time.Millisecond)
	s.Add("t1", func() { second.Add(1) }, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return second.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	// The replaced task no longer runs.
	settled := first.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, first.Load())
	assert.Equal(t, 1, s.Len())
}

func TestTaskPanicIsRecovered(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var ticks atomic.Int32
	s.Add("t1", func() {
		ticks.Add(1)
		panic("tick gone wrong")
	}, 10*time.Millisecond)

	// Subsequent ticks still happen.
	require.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestStopHaltsEverything(t *testing.T) {
	s := New(zap.NewNop())

	var ticks atomic.Int32
	s.Add("a", func() { ticks.Add(1) }, 10*time.Millisecond)
	s.Add("b", func() { ticks.Add(1) }, 10*time.Millisecond)
	s.Stop()

	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load())

	// Adding after stop is a no-op.
	s.Add("c", func() { ticks.Add(1) }, 10*time.Millisecond)
	assert.Equal(t, 0, s.Len())
}

func TestRemoveUnknownTaskIsNoop(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()
	s.Remove("missing")
}
