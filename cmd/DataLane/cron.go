package main

import (
	"context"
	"time"

	"DataLane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// maintenanceCron owns the periodic background jobs: replica lag refresh,
// status snapshot mirroring, and stale quotation expiry.
type maintenanceCron struct {
	c *cron.Cron
}

// newMaintenanceCron registers and starts the background jobs. The returned
// cleanup stops the scheduler and waits for running jobs to finish.
func newMaintenanceCron(status *biz.StatusUseCase, quotations *biz.QuotationUseCase, logger log.Logger) (*maintenanceCron, func(), error) {
	helper := log.NewHelper(logger)

	c := cron.New(cron.WithSeconds())

	// Every 30 seconds: refresh the replica lag probe and mirror the status
	// snapshot to Redis. Keeps the cached lag fresh even when no reads
	// arrive, so the first read after an idle period routes correctly.
	_, err := c.AddFunc("*/30 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status.ReplicaHealth(ctx, true)
		status.MirrorSnapshot(ctx)
	})
	if err != nil {
		return nil, nil, err
	}

	// Every minute: expire overdue published quotations.
	_, err = c.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := quotations.ExpireStale(ctx); err != nil {
			helper.Errorw("msg", "quotation expiry job failed", "error", err)
		}
	})
	if err != nil {
		return nil, nil, err
	}

	c.Start()
	helper.Info("maintenance cron started: replica refresh every 30s, quotation expiry every minute")

	cleanup := func() {
		helper.Info("stopping maintenance cron")
		<-c.Stop().Done()
	}
	return &maintenanceCron{c: c}, cleanup, nil
}
