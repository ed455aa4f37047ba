package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGoRoutinePoolRunsAllTasks(t *testing.T) {
	pool := NewGoRoutinePool(4)
	defer pool.Stop()

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		pool.Schedule(func() {
			atomic.AddInt32(&ran, 1)
			wg.Done()
		})
	}
	wg.Wait()

	if got := atomic.LoadInt32(&ran); got != 100 {
		t.Errorf("ran %d tasks, want 100", got)
	}
}

func TestSimpleMutexTryLock(t *testing.T) {
	m := NewSimpleMutex()

	if !m.TryLock() {
		t.Fatal("fresh mutex should be free")
	}
	if m.TryLock() {
		t.Error("held mutex must not be acquired again")
	}
	m.Unlock()
	if !m.TryLock() {
		t.Error("released mutex should be free")
	}
	m.Unlock()
}
