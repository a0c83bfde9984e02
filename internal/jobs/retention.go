// Package jobs hosts recurring maintenance tasks.
package jobs

import (
	"github.com/robfig/cron/v3"

	"whatsapp-bridge/internal/logging"
	"whatsapp-bridge/internal/store"
)

// Retention prunes stale conversation history on a daily schedule.
type Retention struct {
	cron  *cron.Cron
	store *store.Store
	days  int
	log   *logging.Logger
}

func NewRetention(st *store.Store, days int, log *logging.Logger) *Retention {
	return &Retention{
		cron:  cron.New(),
		store: st,
		days:  days,
		log:   log.Sub("jobs"),
	}
}

// Start schedules the daily purge. Disabled when the retention window is
// zero or negative.
func (r *Retention) Start() error {
	if r.days <= 0 {
		r.log.Info().Msg("history retention disabled")
		return nil
	}
	if _, err := r.cron.AddFunc("@daily", r.purge); err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info().Int("days", r.days).Msg("history retention scheduled")
	return nil
}

func (r *Retention) Stop() {
	r.cron.Stop()
}

func (r *Retention) purge() {
	removed, err := r.store.PurgeHistoryOlderThan(r.days)
	if err != nil {
		r.log.Error().Err(err).Msg("history purge failed")
		return
	}
	if removed > 0 {
		r.log.Info().Int64("removed", removed).Msg("stale history purged")
	}
}
