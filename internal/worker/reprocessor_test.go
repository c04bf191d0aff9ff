package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeDispatcher struct {
	limits []int
	n      int
	err    error
}

func (f *fakeDispatcher) Reprocess(ctx context.Context, limit int) (int, error) {
	f.limits = append(f.limits, limit)
	return f.n, f.err
}

func TestRunCycle(t *testing.T) {
	d := &fakeDispatcher{n: 3}
	w := NewReprocessWorker(d, time.Minute, 50)

	n, err := w.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if n != 3 {
		t.Errorf("RunCycle() = %d, want 3", n)
	}
	if len(d.limits) != 1 || d.limits[0] != 50 {
		t.Errorf("batch size not passed through: %v", d.limits)
	}
	if w.Attempted() != 3 {
		t.Errorf("Attempted() = %d, want 3", w.Attempted())
	}
}

func TestRunCycle_Error(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("db down")}
	w := NewReprocessWorker(d, time.Minute, 50)

	if _, err := w.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if w.Attempted() != 0 {
		t.Errorf("failed cycle must not count attempts")
	}
}

func TestNewReprocessWorker_Defaults(t *testing.T) {
	w := NewReprocessWorker(&fakeDispatcher{}, 0, 0)
	if w.interval != DefaultReprocessInterval {
		t.Errorf("interval = %s, want default", w.interval)
	}
	if w.batchSize != DefaultReprocessBatch {
		t.Errorf("batchSize = %d, want default", w.batchSize)
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	d := &fakeDispatcher{}
	w := NewReprocessWorker(d, 10*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	if len(d.limits) == 0 {
		t.Error("worker never ran a cycle")
	}
}
