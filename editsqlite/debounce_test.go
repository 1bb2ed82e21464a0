package editsqlite

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesToLastCall(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	var calls, last atomic.Int32
	for i := int32(1); i <= 5; i++ {
		i := i
		d.Schedule(func() { calls.Add(1); last.Store(i) })
	}
	require.True(t, d.Pending())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(5), last.Load())
	require.False(t, d.Pending())
}

func TestDebouncer_FlushAndCancel(t *testing.T) {
	d := newDebouncer(time.Hour)
	var calls atomic.Int32

	d.Schedule(func() { calls.Add(1) })
	d.Flush()
	require.Equal(t, int32(1), calls.Load())
	d.Flush()
	require.Equal(t, int32(1), calls.Load(), "flush without pending work does nothing")

	d.Schedule(func() { calls.Add(1) })
	d.Cancel()
	require.False(t, d.Pending())
	d.Flush()
	require.Equal(t, int32(1), calls.Load())
}

func TestDebouncer_ZeroIntervalRunsImmediately(t *testing.T) {
	d := newDebouncer(0)
	ran := false
	d.Schedule(func() { ran = true })
	require.True(t, ran)
}
