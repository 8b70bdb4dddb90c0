// Package retention runs the periodic housekeeping sweep: archiving
// finished forms that went quiet and purging expired sessions.
package retention

import (
	"context"
	"fmt"
	"time"

	"icsforms/config"
	"icsforms/core/store"
	"icsforms/core/utils"

	"github.com/robfig/cron/v3"
)

// Sweeper archives stale forms on a cron schedule. Forms in a terminal
// paper state (replied, returned) that have not been touched for the
// configured number of days move to archived.
type Sweeper struct {
	cfg    *config.AppConfig
	forms  store.FormsStore
	sess   store.SessionStore
	audits store.AuditStore
	logger *utils.Logger

	cron *cron.Cron
}

// staleStates lists the lifecycle states the sweep may archive from.
var staleStates = []string{"replied", "returned"}

func NewSweeper(cfg *config.AppConfig, forms store.FormsStore, sess store.SessionStore, audits store.AuditStore, logger *utils.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, forms: forms, sess: sess, audits: audits, logger: logger}
}

func (s *Sweeper) StartWithContext(ctx context.Context) error {
	if !s.cfg.Retention.Enabled {
		s.logger.Printf("retention sweep disabled")
		return nil
	}
	schedule := s.cfg.Retention.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := s.RunOnce(ctx, time.Now().UTC()); err != nil {
			s.logger.Errorf("retention sweep: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Printf("retention sweep scheduled (%s, archive after %d days)", schedule, s.cfg.Retention.ArchiveAfterDays)
	return nil
}

func (s *Sweeper) StopWithContext(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// RunOnce performs a single sweep pass. Exposed for tests and for a
// manual trigger from the admin API.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) error {
	days := s.cfg.Retention.ArchiveAfterDays
	if days <= 0 {
		days = 30
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	archived, err := s.forms.ArchiveStaleForms(ctx, staleStates, cutoff)
	if err != nil {
		return fmt.Errorf("archive stale forms: %w", err)
	}
	if archived > 0 {
		s.logger.Printf("retention sweep archived %d forms older than %s", archived, cutoff.Format(time.RFC3339))
		s.audits.Log(ctx, "system", "retention.archive", fmt.Sprintf("count=%d cutoff=%s", archived, cutoff.Format(time.RFC3339)))
	}
	if s.sess != nil {
		purged, err := s.sess.DeleteExpired(ctx, now)
		if err != nil {
			return fmt.Errorf("purge sessions: %w", err)
		}
		if purged > 0 {
			s.logger.Printf("retention sweep purged %d expired sessions", purged)
		}
	}
	return nil
}
