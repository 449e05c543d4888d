package scheduler

import (
	"context"
	"math/rand"
	"time"
)

// Window 随机等待区间 [Min, Max]
type Window struct {
	Min time.Duration
	Max time.Duration
}

// Draw 在区间内均匀取值；Max < Min 时按 Min 处理
func (w Window) Draw(r *rand.Rand) time.Duration {
	if w.Max <= w.Min {
		return w.Min
	}
	span := int64(w.Max - w.Min)
	var j int64
	if r != nil {
		j = r.Int63n(span + 1)
	} else {
		j = rand.Int63n(span + 1)
	}
	return w.Min + time.Duration(j)
}

// SleepFunc 可被 ctx 打断的等待
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep 默认实现：计时器与 ctx.Done 二选一
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
