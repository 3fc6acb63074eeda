package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainLoopRunsPostedTasksInOrder(t *testing.T) {
	loop := NewMainLoop(16)
	loop.Start()
	defer loop.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	waitOrTimeout(t, &wg, time.Second)
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestMainLoopPostAfterStopIsDropped(t *testing.T) {
	loop := NewMainLoop(1)
	loop.Start()
	loop.Stop()

	ran := false
	loop.Post(func() { ran = true })
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran)
}

func TestMainLoopStopIsIdempotent(t *testing.T) {
	loop := NewMainLoop(1)
	loop.Start()
	assert.NotPanics(t, func() {
		loop.Stop()
		loop.Stop()
	})
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		require.Fail(t, "timed out waiting for posted tasks to run")
	}
}
