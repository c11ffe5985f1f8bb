package services

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Janitor 周期性归档令牌已过期的待确认预约。
type Janitor struct {
	appts    *AppointmentService
	interval time.Duration
}

func NewJanitor(appts *AppointmentService, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Janitor{appts: appts, interval: interval}
}

// RunOnce 执行一次清理。
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.appts.SweepExpired(ctx)
	if err != nil {
		log.WithError(err).Error("appointment sweep failed")
		return 0, err
	}
	if n > 0 {
		log.WithField("archived", n).Info("archived expired appointment requests")
	}
	return n, nil
}

// Run 阻塞运行直到 ctx 结束。
func (j *Janitor) Run(ctx context.Context) error {
	t := time.NewTicker(j.interval)
	defer t.Stop()
	_, _ = j.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}
