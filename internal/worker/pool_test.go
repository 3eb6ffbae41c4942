package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolProcessesJob(t *testing.T) {
	jobs := make(chan Job, 1)
	processed := atomic.Int32{}
	var mu sync.Mutex
	var seen []string

	handle := func(ctx context.Context, job Job) {
		mu.Lock()
		seen = append(seen, job.MonitorID)
		mu.Unlock()
		processed.Add(1)
	}

	p := NewPool(jobs, handle, WithWorkerCount(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := p.Start(ctx)

	jobs <- Job{MonitorID: "mon1", Reason: ReasonHeartbeat}

	deadline := time.NewTimer(200 * time.Millisecond)
	defer deadline.Stop()

	for {
		if processed.Load() > 0 {
			break
		}
		select {
		case <-deadline.C:
			t.Fatalf("timeout waiting for job to process")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	close(jobs)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "mon1" {
		t.Fatalf("unexpected jobs handled %v", seen)
	}
}

func TestPoolStopsWhenChannelCloses(t *testing.T) {
	jobs := make(chan Job)
	p := NewPool(jobs, nil, WithWorkerCount(3))
	wg := p.Start(context.Background())
	close(jobs)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("workers did not exit after channel close")
	}
}

func TestNewPoolClampsWorkerCount(t *testing.T) {
	p := NewPool(nil, nil, WithWorkerCount(-2))
	if p.size != 4 {
		t.Fatalf("expected default worker count, got %d", p.size)
	}
}

func TestPoolSurvivesHandlerPanic(t *testing.T) {
	jobs := make(chan Job, 2)
	panics := make(chan string, 1)
	handled := make(chan string, 1)
	handle := func(ctx context.Context, job Job) {
		if job.MonitorID == "boom" {
			panic("sink exploded")
		}
		handled <- job.MonitorID
	}
	p := NewPool(jobs, handle, WithWorkerCount(1), WithPanicHandler(func(job Job, err error) {
		panics <- job.MonitorID + ": " + err.Error()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	wg := p.Start(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	jobs <- Job{MonitorID: "boom"}
	jobs <- Job{MonitorID: "ok"}

	select {
	case msg := <-panics:
		if msg != "boom: handler panic: sink exploded" {
			t.Fatalf("unexpected panic report %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("panic not reported")
	}
	select {
	case id := <-handled:
		if id != "ok" {
			t.Fatalf("unexpected job %q", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("worker did not continue after panic")
	}
}
