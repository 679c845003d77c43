// SPDX-License-Identifier: MIT

package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/decluttered-ai/reportd/internal/bus"
	"github.com/decluttered-ai/reportd/internal/contract"
	"github.com/decluttered-ai/reportd/internal/log"
	"github.com/decluttered-ai/reportd/internal/session"
)

// Run consumes pipeline events and drives the timer loops until ctx is
// cancelled, then drains: every still-Active session is finalized with
// the shutdown trigger, bounded by the configured shutdown timeout.
func (c *Coordinator) Run(ctx context.Context) error {
	logger := log.WithComponent("coordinator")

	results, err := c.events.Subscribe(ctx, bus.TopicResults)
	if err != nil {
		return fmt.Errorf("subscribe results: %w", err)
	}
	defer func() { _ = results.Close() }()

	starts, err := c.events.Subscribe(ctx, bus.TopicStart)
	if err != nil {
		return fmt.Errorf("subscribe starts: %w", err)
	}
	defer func() { _ = starts.Close() }()

	stops, err := c.events.Subscribe(ctx, bus.TopicStop)
	if err != nil {
		return fmt.Errorf("subscribe stops: %w", err)
	}
	defer func() { _ = stops.Close() }()

	sweep := time.NewTicker(c.cfg.SweepInterval)
	defer sweep.Stop()
	interim := time.NewTicker(c.cfg.InterimInterval)
	defer interim.Stop()
	status := time.NewTicker(c.cfg.StatusInterval)
	defer status.Stop()

	logger.Info().
		Str(log.FieldEvent, "coordinator.started").
		Dur("sweep_interval", c.cfg.SweepInterval).
		Dur("interim_interval", c.cfg.InterimInterval).
		Dur("status_interval", c.cfg.StatusInterval).
		Msg("coordinator event loop started")

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return nil

		case msg := <-results.C():
			if result, ok := msg.(contract.StageResult); ok {
				c.HandleResult(ctx, result)
			} else {
				logger.Warn().
					Str(log.FieldEvent, "bus.unexpected_payload").
					Str("topic", bus.TopicResults).
					Msg("discarding unexpected results payload")
			}

		case msg := <-starts.C():
			if req, ok := msg.(contract.StartRequest); ok {
				// Creation errors are already logged; a duplicate start
				// signal must not stop the stream.
				_, _ = c.StartSession(ctx, req)
			} else {
				logger.Warn().
					Str(log.FieldEvent, "bus.unexpected_payload").
					Str("topic", bus.TopicStart).
					Msg("discarding unexpected start payload")
			}

		case msg := <-stops.C():
			if req, ok := msg.(contract.StopRequest); ok {
				if _, err := c.StopSession(ctx, req.SessionID); err != nil {
					logger.Warn().Err(err).
						Str(log.FieldEvent, "finalize.stop_failed").
						Str(log.FieldSessionID, req.SessionID).
						Msg("stop signal for unknown session")
				}
			} else {
				logger.Warn().
					Str(log.FieldEvent, "bus.unexpected_payload").
					Str("topic", bus.TopicStop).
					Msg("discarding unexpected stop payload")
			}

		case <-sweep.C:
			if expired := c.SweepOnce(ctx); expired > 0 {
				logger.Info().
					Str(log.FieldEvent, "sweep.expired").
					Int("count", expired).
					Msg("timed-out sessions finalized")
			}

		case <-interim.C:
			c.InterimOnce(ctx)

		case <-status.C:
			c.logStatus(logger)
		}
	}
}

func (c *Coordinator) logStatus(logger zerolog.Logger) {
	sig := c.Status()
	logger.Info().
		Str(log.FieldEvent, "status.signal").
		Int("active_sessions", sig.ActiveSessions).
		Int("pending_work", sig.PendingWork).
		Str("health", sig.Health).
		Int64("total_sessions_seen", sig.TotalSessionsSeen).
		Str("most_recent_session", sig.MostRecentSession).
		Msg("periodic status")
}

// drain finalizes all remaining Active sessions on shutdown so no
// accepted result is lost without a report.
func (c *Coordinator) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()
	logger := log.WithComponent("coordinator")

	var active []string
	_ = c.registry.Scan(func(s *session.Session) error {
		if s.Status == session.StatusActive {
			active = append(active, s.ID)
		}
		return nil
	})
	if len(active) == 0 {
		logger.Info().Str(log.FieldEvent, "coordinator.stopped").Msg("no active sessions at shutdown")
		return
	}

	logger.Info().
		Str(log.FieldEvent, "coordinator.draining").
		Int("active_sessions", len(active)).
		Msg("finalizing active sessions before shutdown")
	for _, id := range active {
		if _, err := c.Finalize(ctx, id, TriggerShutdown); err != nil {
			logger.Warn().Err(err).
				Str(log.FieldEvent, "finalize.shutdown_failed").
				Str(log.FieldSessionID, id).
				Msg("shutdown finalization failed")
		}
	}
	logger.Info().Str(log.FieldEvent, "coordinator.stopped").Msg("coordinator drained")
}
