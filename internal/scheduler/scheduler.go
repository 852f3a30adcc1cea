package scheduler

import (
	"context"
	"time"

	"finagent/internal/logger"
)

// DefaultInterval 在配置不可读时兜底。
const DefaultInterval = 30 * time.Minute

// Loop 周期性驱动代理循环。间隔在每轮结束后重新读取，
// 因此运行中的配置修改在下一轮自动生效，无需重启。
type Loop struct {
	// Run 执行一轮代理循环。返回的错误只记录，不终止循环。
	Run func(ctx context.Context) error
	// Interval 返回当前配置的检查间隔。
	Interval func(ctx context.Context) time.Duration
	// RunImmediately 为 true 时启动后先跑一轮再进入对齐等待。
	RunImmediately bool
	// MinInterval 是间隔下限，防止配置错误导致忙循环。
	MinInterval time.Duration

	nowFn func() time.Time
}

func NewLoop(run func(ctx context.Context) error, interval func(ctx context.Context) time.Duration) *Loop {
	return &Loop{
		Run:         run,
		Interval:    interval,
		MinInterval: time.Minute,
		nowFn:       time.Now,
	}
}

// Start 阻塞运行直到 ctx 取消。
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.Run == nil {
		logger.Warnf("scheduler: no task configured, exit")
		return
	}
	if l.nowFn == nil {
		l.nowFn = time.Now
	}

	startAt := l.nowFn().UTC()
	logger.Infof("scheduler: started run_immediately=%v at=%s", l.RunImmediately, startAt.Format(time.RFC3339))

	if l.RunImmediately {
		l.runOnce(ctx)
	}

	for {
		interval := l.currentInterval(ctx)
		wakeAt := l.nowFn().UTC().Add(interval)
		logger.Infof("scheduler: next cycle at=%s (in %s) | uptime=%s",
			wakeAt.Format(time.RFC3339), interval.Truncate(time.Second),
			l.nowFn().UTC().Sub(startAt).Truncate(time.Second))

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("scheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		l.runOnce(ctx)
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := l.Run(ctx); err != nil {
		logger.Errorf("scheduler: cycle failed: %v", err)
	}
}

func (l *Loop) currentInterval(ctx context.Context) time.Duration {
	interval := DefaultInterval
	if l.Interval != nil {
		if got := l.Interval(ctx); got > 0 {
			interval = got
		}
	}
	min := l.MinInterval
	if min <= 0 {
		min = time.Minute
	}
	if interval < min {
		logger.Warnf("scheduler: interval %s below minimum, clamping to %s", interval, min)
		interval = min
	}
	return interval
}
