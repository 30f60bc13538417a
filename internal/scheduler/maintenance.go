// Package scheduler implements the maintenance scheduler of design §4.7: a
// daily routine that stops running servers and may restart them, observing
// the America/New_York wall clock across DST transitions.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/lmdudester/garcon/internal/orchestrator"
)

// maintenanceHour/Minute is "04:00 America/New_York" (design §4.7).
const (
	maintenanceHour   = 4
	maintenanceMinute = 0
	zoneName          = "America/New_York"
)

// RestartPolicy reports whether serverID should be restarted after its
// maintenance stop.
type RestartPolicy interface {
	ShouldRestartAfterMaintenance(serverID string) bool
}

// Scheduler runs the daily maintenance loop and a DST re-arm tick.
type Scheduler struct {
	orch     *orchestrator.Orchestrator
	restart  RestartPolicy
	log      zerolog.Logger
	location *time.Location

	cron      *cron.Cron
	cancel    context.CancelFunc
	maintID   cron.EntryID
	rearmID   cron.EntryID
}

// New constructs a Scheduler. Call Start to arm the daily tasks.
func New(orch *orchestrator.Orchestrator, restart RestartPolicy, log zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		orch:     orch,
		restart:  restart,
		log:      log.With().Str("component", "scheduler").Logger(),
		location: loc,
	}, nil
}

// Start arms the maintenance task at 04:00 America/New_York and a daily
// 00:00 UTC re-arm tick that recomputes the DST offset (design §4.7,
// design §9 "DST math": rely on a real timezone database, not hand-rolled
// DST rules).
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.cron = cron.New(cron.WithLocation(time.UTC))

	rearmID, err := s.cron.AddFunc("0 0 * * *", func() { s.rearm(ctx) })
	if err != nil {
		return err
	}
	s.rearmID = rearmID

	s.cron.Start()
	s.rearm(ctx)

	return nil
}

// rearm (re)schedules the maintenance job at the current local 04:00
// America/New_York instant, removing any previous schedule so the spring/
// fall transition never leaves two armed jobs.
func (s *Scheduler) rearm(ctx context.Context) {
	if s.maintID != 0 {
		s.cron.Remove(s.maintID)
	}

	id, err := s.cron.AddFunc(dailyAt(maintenanceHour, maintenanceMinute, s.location), func() {
		s.runMaintenance(ctx)
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to arm maintenance task")
		return
	}
	s.maintID = id
}

// dailyAt builds a UTC cron spec equivalent to hour:minute in loc today,
// resolved fresh on every re-arm so the spring/fall transition is absorbed
// by loc's own offset rather than hand-rolled DST rules (design §9 "DST
// math").
func dailyAt(hour, minute int, loc *time.Location) string {
	now := time.Now().In(loc)
	local := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	utc := local.UTC()
	return fmt.Sprintf("%d %d * * *", utc.Minute(), utc.Hour())
}

// runMaintenance stops every currently-running server through the
// orchestrator's Stop, which takes an auto backup only when auto-backup-on-
// stop is enabled; no separate snapshot is taken here. Whether a server is
// restarted afterward is decided by the RestartPolicy alone; no per-server
// configuration setting is consulted (design §4.7).
func (s *Scheduler) runMaintenance(ctx context.Context) {
	for _, srv := range s.orch.List() {
		if srv.Status != orchestrator.StatusRunning {
			continue
		}
		s.maintainOne(ctx, srv.ID)
	}
}

func (s *Scheduler) maintainOne(ctx context.Context, serverID string) {
	if err := s.orch.Stop(ctx, serverID); err != nil {
		s.log.Warn().Err(err).Str("server_id", serverID).Msg("maintenance stop failed")
		return
	}

	if s.restart != nil && s.restart.ShouldRestartAfterMaintenance(serverID) {
		if err := s.orch.Start(ctx, serverID); err != nil {
			s.log.Warn().Err(err).Str("server_id", serverID).Msg("maintenance restart failed")
		}
	}
}

// Stop halts both scheduled tasks (design §4.7 "Shutdown stops both
// scheduled tasks").
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}
