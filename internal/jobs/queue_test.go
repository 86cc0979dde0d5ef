package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"
)

type noopProcessor struct {
	count   int32
	fail    bool
	release chan struct{}
}

func (p *noopProcessor) Process(ctx context.Context, item WorkItem) error {
	atomic.AddInt32(&p.count, 1)
	if p.release != nil {
		<-p.release
	}
	if p.fail {
		return errors.New("fail")
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestQueue_StartEnqueueShutdown(t *testing.T) {
	q := NewQueue(discardLogger(), 2, 1)
	p := &noopProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx, p); err != nil {
		t.Fatalf("queue start: %v", err)
	}

	item := WorkItem{Job: Job{ID: "id1"}}
	if err := q.Enqueue(item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// allow worker to process
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&p.count) < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&p.count) < 1 {
		t.Fatalf("expected processor to be called at least once")
	}

	// shutdown should complete promptly
	q.Shutdown(2 * time.Second)
	if err := q.Enqueue(WorkItem{Job: Job{ID: "id2"}}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after shutdown err = %v", err)
	}
}

func TestQueue_EnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1)
	err := q.Enqueue(WorkItem{Job: Job{ID: "x"}})
	if !errors.Is(err, ErrQueueNotStarted) {
		t.Fatalf("enqueue before start err = %v", err)
	}
}

func TestQueue_RejectsDuplicateJobUntilFinished(t *testing.T) {
	q := NewQueue(discardLogger(), 4, 1)
	p := &noopProcessor{release: make(chan struct{})}
	if err := q.Start(context.Background(), p); err != nil {
		t.Fatalf("queue start: %v", err)
	}
	defer q.Shutdown(time.Second)

	if err := q.Enqueue(WorkItem{Job: Job{ID: "same"}}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(WorkItem{Job: Job{ID: "same"}, Retry: true}); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("duplicate enqueue err = %v", err)
	}
	if !q.Active("same") || q.Len() != 1 {
		t.Fatalf("job should be tracked as active")
	}

	close(p.release)
	deadline := time.Now().Add(2 * time.Second)
	for q.Active("same") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if q.Active("same") {
		t.Fatalf("job should be released after processing")
	}
	if err := q.Enqueue(WorkItem{Job: Job{ID: "same"}}); err != nil {
		t.Fatalf("re-enqueue after finish: %v", err)
	}
}

func TestQueue_FullQueue(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1)
	p := &noopProcessor{release: make(chan struct{})}
	if err := q.Start(context.Background(), p); err != nil {
		t.Fatalf("queue start: %v", err)
	}
	defer func() {
		close(p.release)
		q.Shutdown(time.Second)
	}()

	// first item occupies the worker, second fills the buffer
	_ = q.Enqueue(WorkItem{Job: Job{ID: "a"}})
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&p.count) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := q.Enqueue(WorkItem{Job: Job{ID: "b"}}); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := q.Enqueue(WorkItem{Job: Job{ID: "c"}}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third enqueue err = %v", err)
	}
}

func TestQueue_ShutdownHandsBackUnstartedItems(t *testing.T) {
	q := NewQueue(discardLogger(), 4, 1)
	p := &noopProcessor{release: make(chan struct{})}
	defer close(p.release)

	var mu sync.Mutex
	var abandoned []string
	q.OnAbandon = func(item WorkItem) {
		mu.Lock()
		defer mu.Unlock()
		abandoned = append(abandoned, item.Job.ID)
	}
	if err := q.Start(context.Background(), p); err != nil {
		t.Fatalf("queue start: %v", err)
	}

	_ = q.Enqueue(WorkItem{Job: Job{ID: "running"}})
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&p.count) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	for _, id := range []string{"b", "c"} {
		if err := q.Enqueue(WorkItem{Job: Job{ID: id}, Retry: id == "c"}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	q.Shutdown(50 * time.Millisecond)

	mu.Lock()
	got := append([]string(nil), abandoned...)
	mu.Unlock()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("abandoned = %v", got)
	}
	if n := atomic.LoadInt32(&p.count); n != 1 {
		t.Fatalf("processed %d items, want only the running one", n)
	}
	if q.Active("b") || q.Active("c") {
		t.Fatalf("abandoned ids must be released")
	}
	if !q.Active("running") {
		t.Fatalf("an item still running past the deadline keeps its id")
	}
}
