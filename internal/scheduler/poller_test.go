package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"pipeflow/internal/services"

	"github.com/sirupsen/logrus"
)

type countingExecutor struct {
	calls int64
}

func (e *countingExecutor) ExecuteDueRules(ctx context.Context, now time.Time) (*services.BatchResult, error) {
	atomic.AddInt64(&e.calls, 1)
	return &services.BatchResult{}, nil
}

func TestPoller_DefaultInterval(t *testing.T) {
	p, err := NewPoller(&countingExecutor{}, logrus.New(), 0)
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}
	if p.interval != time.Minute {
		t.Errorf("interval = %s, want 1m default", p.interval)
	}
}

func TestPoller_TicksExecutor(t *testing.T) {
	executor := &countingExecutor{}
	p, err := NewPoller(executor, logrus.New(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&executor.calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("executor never invoked")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPoller_StopIsIdempotentSafe(t *testing.T) {
	executor := &countingExecutor{}
	p, err := NewPoller(executor, logrus.New(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Stop()
}
