package testrail

import (
	"context"
	"fmt"
	"time"

	"github.com/raphi011/testrail/internal/metric"
	"github.com/robfig/cron/v3"
)

type RetentionSchedule struct {
	// Schedule defines how often the journal is pruned. For the format see
	// https://pkg.go.dev/github.com/robfig/cron#hdr-CRON_Expression_Format
	Schedule string
	// MaxAge is the age after which a delivery is removed.
	MaxAge time.Duration
}

func (r *Relay) startSchedules() error {
	if r.journal == nil || r.retention.Schedule == "" {
		return nil
	}

	r.cron = cron.New()

	if _, err := r.cron.AddFunc(r.retention.Schedule, r.pruneJournal); err != nil {
		return fmt.Errorf("adding journal retention schedule %q: %w", r.retention.Schedule, err)
	}

	r.cron.Start()

	return nil
}

func (r *Relay) pruneJournal() {
	pruned, err := r.journal.PruneBefore(context.Background(), time.Now().Add(-r.retention.MaxAge))
	if err != nil {
		r.log.Error("pruning journal failed", "error", err)
		return
	}

	metric.DeliveriesPruned.Add(float64(pruned))

	r.log.Info("pruned journal", "deliveries", pruned, "max-age", r.retention.MaxAge)
}
