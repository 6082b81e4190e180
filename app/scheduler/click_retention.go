// Package scheduler
package scheduler

import (
	"context"
	"time"

	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRetentionInterval = time.Hour
	DefaultRetentionBatch    = 1000

	// maxBatchesPerRun bounds one tick so a large backlog is spread over several runs
	maxBatchesPerRun = 100
)

var retentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "click_retention_deleted_total",
	Help: "Clicks removed by the retention scheduler",
})

// ClickRetentionScheduler periodically deletes clicks older than the retention window
type ClickRetentionScheduler struct {
	clicks    repository.ClickRepository
	retention time.Duration
	interval  time.Duration
	batch     int
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewClickRetentionScheduler(
	clicks repository.ClickRepository,
	retention time.Duration,
	interval time.Duration,
	batch int,
	logger logrus.FieldLogger,
) *ClickRetentionScheduler {
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	if batch <= 0 {
		batch = DefaultRetentionBatch
	}
	return &ClickRetentionScheduler{
		clicks:    clicks,
		retention: retention,
		interval:  interval,
		batch:     batch,
		logger:    logger,
		now:       utils.UTCNow,
	}
}

// Enabled is false when retention is unbounded
func (s *ClickRetentionScheduler) Enabled() bool { return s.retention > 0 }

// Start launches the scheduler loop in a background goroutine and returns a stop function
func (s *ClickRetentionScheduler) Start(parent context.Context) func() {
	if !s.Enabled() {
		s.logger.Info("Click retention disabled")
		return func() {}
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"retention": s.retention.String(),
		"interval":  s.interval.String(),
	}).Info("Click retention scheduler started")

	return func() {
		cancel()
		<-done
	}
}

// runOnce deletes expired clicks batch by batch and returns how many were removed
func (s *ClickRetentionScheduler) runOnce(ctx context.Context) int {
	cutoff := s.now().Add(-s.retention)
	total := 0
	for i := 0; i < maxBatchesPerRun; i++ {
		if ctx.Err() != nil {
			break
		}
		ids, err := s.clicks.DeleteReceivedBefore(ctx, cutoff, s.batch)
		if err != nil {
			s.logger.WithError(err).WithField("task", "click_retention").Error("Click retention batch failed")
			break
		}
		total += len(ids)
		retentionDeleted.Add(float64(len(ids)))
		if len(ids) < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.WithFields(logrus.Fields{"deleted": total, "cutoff": cutoff}).Info("Expired clicks removed")
	}
	return total
}
