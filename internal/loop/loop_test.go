package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "stratumproxy/internal/errors"
)

func startLoop(t *testing.T, capacity, batch int) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(capacity, batch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx) //nolint:errcheck
	t.Cleanup(func() {
		cancel()
		l.Stop()
	})
	return l, cancel
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l, _ := startLoop(t, 8, 3)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.GreaterOrEqual(t, l.Executed(), int64(100))
}

func TestLoop_SerializesConcurrentPosters(t *testing.T) {
	l, _ := startLoop(t, 0, 0)

	counter := 0 // unsynchronised: only the loop goroutine touches it
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = l.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var final int
	require.NoError(t, l.Call(context.Background(), func() { final = counter }))
	assert.Equal(t, 4000, final)
}

func TestLoop_PerPosterOrder(t *testing.T) {
	l, _ := startLoop(t, 16, 4)

	seen := map[int][]int{}
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				i := i
				_ = l.Post(func() { seen[g] = append(seen[g], i) })
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, l.Call(context.Background(), func() {}))

	for g, seq := range seen {
		for i, v := range seq {
			if v != i {
				t.Fatalf("poster %d: position %d ran task %d", g, i, v)
			}
		}
	}
}

func TestLoop_PanicDoesNotKillLoop(t *testing.T) {
	l, _ := startLoop(t, 0, 0)

	require.NoError(t, l.Post(func() { panic("boom") }))
	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_PostAfterStop(t *testing.T) {
	l := New(1, 1, nil)
	go l.Run(context.Background()) //nolint:errcheck
	require.NoError(t, l.Call(context.Background(), func() {}))

	l.Stop()
	l.Stop() // idempotent

	assert.ErrorIs(t, l.Post(func() {}), errs.ErrLoopStopped)
	assert.False(t, l.TryPost(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), errs.ErrLoopStopped)

	select {
	case <-l.Done():
	default:
		t.Error("Done should be closed after Stop")
	}
}

func TestLoop_StopWithoutRun(t *testing.T) {
	l := New(1, 1, nil)
	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a loop that never ran")
	}
}

func TestLoop_ContextCancelStops(t *testing.T) {
	l := New(0, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan error, 1)
	go func() { exited <- l.Run(ctx) }()

	require.NoError(t, l.Call(context.Background(), func() {}))
	cancel()

	select {
	case err := <-exited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit on context cancel")
	}
	assert.ErrorIs(t, l.Post(func() {}), errs.ErrLoopStopped)
}

func TestLoop_TryPostFull(t *testing.T) {
	l := New(1, 1, nil) // not running: nothing drains the inbox
	assert.True(t, l.TryPost(func() {}))
	assert.False(t, l.TryPost(func() {}))
	assert.Equal(t, 1, l.Pending())
}

func TestLoop_CallContextCancelled(t *testing.T) {
	l, _ := startLoop(t, 0, 0)

	block := make(chan struct{})
	require.NoError(t, l.Post(func() { <-block }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Call(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}
