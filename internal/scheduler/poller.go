package scheduler

import (
	"context"
	"fmt"
	"time"

	"pipeflow/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// DueExecutor 到期批量执行入口（由周期规则引擎实现）
type DueExecutor interface {
	ExecuteDueRules(ctx context.Context, now time.Time) (*services.BatchResult, error)
}

// Poller 周期性轮询到期规则并批量执行。引擎自身不持有时钟，
// 每个 tick 都以当时的 UTC 时间作为参考点传入。
type Poller struct {
	scheduler gocron.Scheduler
	executor  DueExecutor
	logger    *logrus.Logger
	interval  time.Duration
}

func NewPoller(executor DueExecutor, logger *logrus.Logger, interval time.Duration) (*Poller, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Poller{scheduler: s, executor: executor, logger: logger, interval: interval}, nil
}

// Start 注册轮询任务并启动调度器
func (p *Poller) Start(ctx context.Context) error {
	_, err := p.scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() { p.tick(ctx) }),
		gocron.WithName("recurring_due_poll"),
		gocron.WithTags("recurring"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule due poll: %w", err)
	}
	p.scheduler.Start()
	p.logger.Infof("Recurring poller started, interval %s", p.interval)
	return nil
}

// Stop 优雅停止调度器
func (p *Poller) Stop() {
	if err := p.scheduler.Shutdown(); err != nil {
		p.logger.Errorf("Error shutting down recurring poller: %v", err)
		return
	}
	p.logger.Info("Recurring poller stopped")
}

func (p *Poller) tick(ctx context.Context) {
	batch, err := p.executor.ExecuteDueRules(ctx, time.Now().UTC())
	if err != nil {
		p.logger.Errorf("Due poll failed: %v", err)
		return
	}
	if batch.TotalCount > 0 {
		p.logger.Debugf("Due poll batch %s: %d executed, %d failed", batch.BatchID, batch.ExecutedCount, batch.ErrorCount)
	}
}
