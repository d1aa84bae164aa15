package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"unitgo/engine"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []engine.Work
}

func (f *fakeEnqueuer) Enqueue(fn engine.Work) {
	f.mu.Lock()
	f.jobs = append(f.jobs, fn)
	f.mu.Unlock()
}

func (f *fakeEnqueuer) runAll() {
	f.mu.Lock()
	jobs := f.jobs
	f.jobs = nil
	f.mu.Unlock()
	for _, j := range jobs {
		j(context.Background())
	}
}

func TestSubmitRunsJobs(t *testing.T) {
	p := New(2, time.Second)

	var n int32
	require.NoError(t, p.Submit(func(ctx context.Context) error {
		atomic.AddInt32(&n, 1)
		return nil
	}))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 1 }, time.Second, time.Millisecond)
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New(1, time.Second)

	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, p.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))

	<-started

	secondStarted := make(chan struct{})
	go func() {
		p.Submit(func(ctx context.Context) error {
			close(secondStarted)
			return nil
		})
	}()

	select {
	case <-secondStarted:
		t.Fatal("second job ran before the pool slot was released")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-secondStarted:
	case <-time.After(time.Second):
		t.Fatal("second job never ran after the slot freed")
	}
}

func TestDestroyInvokesContinuationAfterDrain(t *testing.T) {
	p := New(2, time.Second)

	jobStarted := make(chan struct{})
	jobMayFinish := make(chan struct{})

	require.NoError(t, p.Submit(func(ctx context.Context) error {
		close(jobStarted)
		<-jobMayFinish
		return nil
	}))
	<-jobStarted

	eq := &fakeEnqueuer{}
	var continuationRan atomic.Bool
	p.Destroy(eq, func(ctx context.Context) { continuationRan.Store(true) })

	require.Never(t, func() bool {
		eq.runAll()
		return continuationRan.Load()
	}, 50*time.Millisecond, 10*time.Millisecond,
		"continuation must not fire before the in-flight job finishes")

	close(jobMayFinish)

	require.Eventually(t, func() bool {
		eq.runAll()
		return continuationRan.Load()
	}, time.Second, 5*time.Millisecond)
}
