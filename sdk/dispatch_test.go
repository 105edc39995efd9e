package sdk

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcher_CallReturnsValueAndError(t *testing.T) {
	t.Parallel()

	d := newDispatcher(4)
	t.Cleanup(d.close)

	value, err := d.call(func() (any, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, value)

	boom := errors.New("boom")
	_, err = d.call(func() (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
}

func TestDispatcher_SerializesWork(t *testing.T) {
	t.Parallel()

	d := newDispatcher(16)
	t.Cleanup(d.close)

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, d.do(func() { order = append(order, i) }))
	}
	// A call behind the queued work observes all of it, in order.
	_, err := d.call(func() (any, error) { return nil, nil })
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestDispatcher_CloseDrainsThenRejects(t *testing.T) {
	t.Parallel()

	d := newDispatcher(16)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, d.do(func() { ran.Add(1) }))
	}
	d.close()
	d.close() // idempotent

	require.Eventually(t, func() bool { return ran.Load() == 5 },
		time.Second, 5*time.Millisecond, "queued work still runs after close")

	require.ErrorIs(t, d.do(func() {}), errDispatcherClosed)
	_, err := d.call(func() (any, error) { return nil, nil })
	require.ErrorIs(t, err, errDispatcherClosed)
}
