package testrail

import (
	"log/slog"
	"time"

	"github.com/raphi011/testrail/internal/storage"
)

// WithPort sets the port the relay listens on, 0 picks a random free port.
func WithPort(port int) Option {
	return func(r *Relay) {
		r.port = port
	}
}

// WithJournal serves the deliveries recorded in j under /deliveries.
func WithJournal(j *storage.Journal) Option {
	return func(r *Relay) {
		r.journal = j
	}
}

// WithJournalRetention removes journal entries older than maxAge according
// to schedule. Ignored without a journal.
func WithJournalRetention(schedule string, maxAge time.Duration) Option {
	return func(r *Relay) {
		r.retention = RetentionSchedule{Schedule: schedule, MaxAge: maxAge}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) {
		r.log = log
	}
}
