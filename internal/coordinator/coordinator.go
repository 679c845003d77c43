// SPDX-License-Identifier: MIT

// Package coordinator drives the session lifecycle: creation, proactive
// and timeout finalization, interim reporting and the periodic status
// signal. All session mutation funnels through the registry; the
// coordinator adds the ordering and at-most-once guarantees on top.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/decluttered-ai/reportd/internal/archive"
	"github.com/decluttered-ai/reportd/internal/bus"
	"github.com/decluttered-ai/reportd/internal/contract"
	"github.com/decluttered-ai/reportd/internal/health"
	"github.com/decluttered-ai/reportd/internal/log"
	"github.com/decluttered-ai/reportd/internal/metrics"
	"github.com/decluttered-ai/reportd/internal/report"
	"github.com/decluttered-ai/reportd/internal/router"
	"github.com/decluttered-ai/reportd/internal/session"
)

// FinalizationBuffer is the uniform grace period added to every
// session's declared duration before the timeout supervisor forces
// finalization.
const FinalizationBuffer = 30 * time.Second

// Trigger names the cause of a finalization.
type Trigger string

const (
	TriggerTimeout   Trigger = "timeout"
	TriggerProactive Trigger = "proactive"
	TriggerStop      Trigger = "stop"
	TriggerShutdown  Trigger = "shutdown"
)

// Config holds the coordinator's timer cadences. Zero values fall back
// to the defaults below.
type Config struct {
	SweepInterval    time.Duration
	InterimInterval  time.Duration
	StatusInterval   time.Duration
	IngestStaleAfter time.Duration
	ShutdownTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.InterimInterval <= 0 {
		c.InterimInterval = 30 * time.Second
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 15 * time.Second
	}
	if c.IngestStaleAfter <= 0 {
		c.IngestStaleAfter = 90 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Coordinator owns the session lifecycle above the registry.
type Coordinator struct {
	registry *session.Registry
	router   *router.Router
	gen      *report.Generator
	store    archive.Store
	events   *bus.MemoryBus
	cfg      Config
	clock    func() time.Time

	lastIngest    atomic.Int64 // unix nanos of the last accepted result
	writeFailures atomic.Int32 // consecutive report-write failures
}

// New wires a coordinator. store may be nil when archiving is disabled.
func New(registry *session.Registry, rt *router.Router, gen *report.Generator, store archive.Store, events *bus.MemoryBus, cfg Config) *Coordinator {
	return &Coordinator{
		registry: registry,
		router:   rt,
		gen:      gen,
		store:    store,
		events:   events,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

func newSessionID(now time.Time) string {
	return fmt.Sprintf("session_%d_%s", now.Unix(), uuid.NewString()[:8])
}

// StartSession registers a new session. When the request carries no id
// the coordinator assigns one; an explicit duplicate id fails with
// session.ErrDuplicateSession and leaves the existing record untouched.
func (c *Coordinator) StartSession(ctx context.Context, req contract.StartRequest) (*session.Session, error) {
	logger := log.WithComponentFromContext(ctx, "coordinator")

	id := req.SessionID
	if id == "" {
		id = newSessionID(c.clock())
	}
	cfg := session.Config{
		DurationSeconds: req.DurationSeconds,
		MaxCaptures:     req.MaxCaptures,
		CooldownSeconds: req.CooldownSeconds,
	}

	snap, err := c.registry.Create(id, cfg, c.clock())
	if err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "session.create_rejected").
			Str(log.FieldSessionID, id).
			Msg("session creation rejected")
		return nil, err
	}

	metrics.IncSessionCreated()
	metrics.SetSessionsActive(c.registry.ActiveCount())
	logger.Info().
		Str(log.FieldEvent, "session.created").
		Str(log.FieldSessionID, id).
		Int("duration_seconds", cfg.DurationSeconds).
		Int("max_captures", cfg.MaxCaptures).
		Msg("session created")
	return snap, nil
}

// HandleResult routes one inbound stage result and finalizes the
// session proactively once it reaches its capture budget.
func (c *Coordinator) HandleResult(ctx context.Context, msg contract.StageResult) router.Outcome {
	outcome := c.router.OnStageResult(ctx, msg)
	if outcome.Accepted() {
		c.lastIngest.Store(c.clock().UnixNano())
	}
	if outcome == router.OutcomeAcceptedEligible {
		if _, err := c.Finalize(ctx, msg.SessionID, TriggerProactive); err != nil {
			logger := log.WithComponentFromContext(ctx, "coordinator")
			logger.Warn().Err(err).
				Str(log.FieldEvent, "finalize.proactive_failed").
				Str(log.FieldSessionID, msg.SessionID).
				Msg("proactive finalization failed")
		}
	}
	return outcome
}

// StopSession finalizes a session on an explicit completion signal.
func (c *Coordinator) StopSession(ctx context.Context, id string) (string, error) {
	return c.Finalize(ctx, id, TriggerStop)
}

// Finalize completes a session exactly once. The first caller wins the
// Active to Finalizing transition and performs the report write; every
// later caller gets the existing report path and no side effects. A
// failed report write still completes the session in memory.
func (c *Coordinator) Finalize(ctx context.Context, id string, trigger Trigger) (string, error) {
	logger := log.WithComponentFromContext(ctx, "coordinator")
	started := c.clock()

	var (
		won  bool
		path string
	)
	err := c.registry.Update(id, func(s *session.Session) error {
		if s.Status == session.StatusActive {
			s.Status = session.StatusFinalizing
			won = true
			return nil
		}
		path = s.ReportPath
		return nil
	})
	if err != nil {
		return "", err
	}
	if !won {
		if path == "" {
			// Concurrent finalizer still mid-write; the path is
			// deterministic per session id.
			path = c.gen.Path(id)
		}
		logger.Debug().
			Str(log.FieldEvent, "finalize.duplicate").
			Str(log.FieldSessionID, id).
			Str("trigger", string(trigger)).
			Msg("session already finalized")
		return path, nil
	}

	snap, err := c.registry.Snapshot(id)
	if err != nil {
		return "", err
	}

	finalizedAt := c.clock()
	reportPath, writeErr := c.gen.Write(ctx, snap, finalizedAt)
	if writeErr != nil {
		c.writeFailures.Add(1)
		metrics.IncReportWrite(false)
		logger.Error().Err(writeErr).
			Str(log.FieldEvent, "report.write_failed").
			Str(log.FieldSessionID, id).
			Str(log.FieldReportPath, reportPath).
			Msg("report write failed; session completes in memory")
	} else {
		c.writeFailures.Store(0)
		metrics.IncReportWrite(true)
	}

	if err := c.registry.Update(id, func(s *session.Session) error {
		s.Status = session.StatusCompleted
		s.ReportPath = reportPath
		s.FinalizedAt = finalizedAt
		return nil
	}); err != nil {
		return "", err
	}

	c.archiveEntry(ctx, snap, finalizedAt, trigger, reportPath, writeErr == nil)

	metrics.IncSessionCompleted(string(trigger))
	metrics.SetSessionsActive(c.registry.ActiveCount())
	metrics.ObserveFinalizeDuration(c.clock().Sub(started).Seconds())

	logger.Info().
		Str(log.FieldEvent, "session.finalized").
		Str(log.FieldSessionID, id).
		Str("trigger", string(trigger)).
		Int("images_processed", snap.ImagesProcessed()).
		Int("unique_objects", len(snap.Unique)).
		Int("total_objects", snap.TotalObjects).
		Bool("over_budget", snap.OverBudget).
		Str(log.FieldReportPath, reportPath).
		Msg("session finalized")
	return reportPath, nil
}

func (c *Coordinator) archiveEntry(ctx context.Context, snap *session.Session, finalizedAt time.Time, trigger Trigger, reportPath string, written bool) {
	if c.store == nil {
		return
	}
	categories := snap.UniqueCategories()
	sort.Strings(categories)
	entry := archive.Entry{
		SessionID:        snap.ID,
		StartTime:        snap.StartTime,
		FinalizedAt:      finalizedAt,
		Trigger:          string(trigger),
		ImagesProcessed:  snap.ImagesProcessed(),
		UniqueCategories: categories,
		TotalObjects:     snap.TotalObjects,
		OverBudget:       snap.OverBudget,
		ReportPath:       reportPath,
		ReportWritten:    written,
	}
	if err := c.store.Put(ctx, entry); err != nil {
		logger := log.WithComponentFromContext(ctx, "coordinator")
		logger.Warn().Err(err).
			Str(log.FieldEvent, "archive.put_failed").
			Str(log.FieldSessionID, snap.ID).
			Msg("failed to archive finalized session")
	}
}

// SweepOnce finalizes every Active session whose deadline has passed
// and returns how many it expired. Deterministic; the ticker loop and
// tests both call it.
func (c *Coordinator) SweepOnce(ctx context.Context) int {
	now := c.clock()
	var expired []string
	_ = c.registry.Scan(func(s *session.Session) error {
		if s.Status == session.StatusActive && now.After(s.Deadline(FinalizationBuffer)) {
			expired = append(expired, s.ID)
		}
		return nil
	})

	for _, id := range expired {
		if _, err := c.Finalize(ctx, id, TriggerTimeout); err != nil {
			logger := log.WithComponentFromContext(ctx, "coordinator")
			logger.Warn().Err(err).
				Str(log.FieldEvent, "finalize.timeout_failed").
				Str(log.FieldSessionID, id).
				Msg("timeout finalization failed")
		}
	}
	return len(expired)
}

// InterimOnce re-renders the report for every Active session that has
// at least one image. Same renderer, same path; the final write simply
// overwrites the last interim one.
func (c *Coordinator) InterimOnce(ctx context.Context) {
	now := c.clock()
	_ = c.registry.Scan(func(s *session.Session) error {
		if s.Status != session.StatusActive || len(s.Images) == 0 {
			return nil
		}
		if _, err := c.gen.Write(ctx, s, now); err != nil {
			c.writeFailures.Add(1)
			metrics.IncReportWrite(false)
			logger := log.WithComponentFromContext(ctx, "coordinator")
			logger.Warn().Err(err).
				Str(log.FieldEvent, "report.interim_failed").
				Str(log.FieldSessionID, s.ID).
				Msg("interim report write failed")
			return nil
		}
		c.writeFailures.Store(0)
		metrics.IncReportWrite(true)
		return nil
	})
}

// Status derives the current status signal from live counters.
func (c *Coordinator) Status() contract.StatusSignal {
	pending := 0
	if c.events != nil {
		pending = c.events.Pending(bus.TopicResults)
	}
	metrics.SetPendingWork(pending)

	var lastIngest time.Time
	if nanos := c.lastIngest.Load(); nanos != 0 {
		lastIngest = time.Unix(0, nanos)
	}
	sample := health.Sample{
		ActiveSessions: c.registry.ActiveCount(),
		PendingWork:    pending,
		LastIngest:     lastIngest,
		WriteFailures:  int(c.writeFailures.Load()),
		StaleAfter:     c.cfg.IngestStaleAfter,
		Now:            c.clock(),
	}

	return contract.StatusSignal{
		ActiveSessions:    sample.ActiveSessions,
		PendingWork:       pending,
		Health:            string(health.Derive(sample)),
		TotalSessionsSeen: c.registry.TotalCreated(),
		MostRecentSession: c.registry.MostRecent(),
	}
}

// Checker exposes the derived health label to the probe manager.
func (c *Coordinator) Checker() health.Checker {
	return health.CheckerFunc{
		CheckName: "coordinator",
		Fn: func(ctx context.Context) health.CheckResult {
			sig := c.Status()
			result := health.CheckResult{Status: health.Status(sig.Health)}
			if failures := c.writeFailures.Load(); failures > 0 {
				result.Message = fmt.Sprintf("%d consecutive report-write failures", failures)
			}
			return result
		},
	}
}

// Cleanup drops Completed sessions from the registry. The archive keeps
// their durable summaries.
func (c *Coordinator) Cleanup(ctx context.Context) int {
	dropped := c.registry.Cleanup()
	metrics.SetSessionsActive(c.registry.ActiveCount())
	logger := log.WithComponentFromContext(ctx, "coordinator")
	logger.Info().
		Str(log.FieldEvent, "registry.cleanup").
		Int("dropped", dropped).
		Msg("completed sessions cleared from registry")
	return dropped
}

// Session returns a deep-copied snapshot for read-only consumers.
func (c *Coordinator) Session(id string) (*session.Session, error) {
	return c.registry.Snapshot(id)
}
