// SPDX-License-Identifier: MIT

// Package router validates inbound stage-result messages and applies them
// to the session registry and the dedup engine.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decluttered-ai/reportd/internal/contract"
	"github.com/decluttered-ai/reportd/internal/dedup"
	"github.com/decluttered-ai/reportd/internal/log"
	"github.com/decluttered-ai/reportd/internal/metrics"
	"github.com/decluttered-ai/reportd/internal/session"
)

// Outcome classifies how the router disposed of a message. Every path is
// local and non-fatal; the caller keeps consuming the stream regardless.
type Outcome string

const (
	// OutcomeAccepted: record appended and merged.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeAcceptedEligible: accepted, and the session has now reached
	// its capture budget and is eligible for proactive finalization.
	OutcomeAcceptedEligible Outcome = "accepted_eligible"
	// OutcomeDroppedMalformed: message failed shape validation.
	OutcomeDroppedMalformed Outcome = "dropped_malformed"
	// OutcomeDroppedUnknown: message references a session never created.
	OutcomeDroppedUnknown Outcome = "dropped_unknown_session"
	// OutcomeDroppedCompleted: late arrival for a completed session.
	OutcomeDroppedCompleted Outcome = "dropped_completed"
	// OutcomeDroppedNotActive: session is finalizing; mutation ignored.
	OutcomeDroppedNotActive Outcome = "dropped_not_active"
)

// Accepted reports whether the message mutated session state.
func (o Outcome) Accepted() bool {
	return o == OutcomeAccepted || o == OutcomeAcceptedEligible
}

// ValidationError describes a malformed inbound message.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("malformed message: field %s %s", e.Field, e.Reason)
}

// Validate checks the stage-result shape against the message contract.
func Validate(msg contract.StageResult) error {
	if msg.SessionID == "" {
		return &ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if msg.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Reason: "must be a positive integer"}
	}
	if msg.SourcePath == "" {
		return &ValidationError{Field: "source_path", Reason: "must not be empty"}
	}
	if msg.ItemCount < 0 {
		return &ValidationError{Field: "item_count", Reason: "must be >= 0"}
	}
	return nil
}

// Router applies stage results to the registry. It holds no per-session
// state of its own; serialization comes from the registry's writer locks.
type Router struct {
	registry *session.Registry
	index    *dedup.Index
	clock    func() time.Time
}

// New constructs a router over the given registry and global dedup index.
func New(registry *session.Registry, index *dedup.Index) *Router {
	return &Router{registry: registry, index: index, clock: time.Now}
}

// WithClock overrides the arrival-time source, for tests.
func (rt *Router) WithClock(clock func() time.Time) *Router {
	rt.clock = clock
	return rt
}

// OnStageResult validates, resolves and applies one inbound message.
// Append and dedup merge happen atomically under the session's writer
// lock, so a record is never observable half-applied.
func (rt *Router) OnStageResult(ctx context.Context, msg contract.StageResult) Outcome {
	logger := log.WithComponentFromContext(ctx, "router")

	if err := Validate(msg); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "result.malformed").
			Str(log.FieldSessionID, msg.SessionID).
			Msg("dropping malformed stage result")
		metrics.IncResult(string(OutcomeDroppedMalformed))
		return OutcomeDroppedMalformed
	}

	rec := session.ImageRecord{
		SourcePath:    msg.SourcePath,
		Timestamp:     msg.Timestamp,
		Categories:    msg.Categories,
		ArtifactNames: msg.ArtifactNames,
		Details:       msg.Details,
		ItemCount:     msg.ItemCount,
		ReceivedAt:    rt.clock(),
	}

	var (
		outcome       Outcome
		crossedBudget bool
	)
	err := rt.registry.Update(msg.SessionID, func(s *session.Session) error {
		switch {
		case s.Status == session.StatusCompleted:
			outcome = OutcomeDroppedCompleted
			return nil
		case s.Status != session.StatusActive:
			outcome = OutcomeDroppedNotActive
			return nil
		}

		wasOverBudget := s.OverBudget
		s.Images = append(s.Images, rec)
		s.TotalObjects += rec.ItemCount
		if len(s.Images) > s.Config.MaxCaptures {
			s.OverBudget = true
		}
		crossedBudget = s.OverBudget && !wasOverBudget
		dedup.Merge(s, msg.Categories)

		if len(s.Images) >= s.Config.MaxCaptures {
			outcome = OutcomeAcceptedEligible
		} else {
			outcome = OutcomeAccepted
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			logger.Warn().
				Str(log.FieldEvent, "result.unknown_session").
				Str(log.FieldSessionID, msg.SessionID).
				Str(log.FieldSourcePath, msg.SourcePath).
				Msg("dropping result for unknown session")
			metrics.IncResult(string(OutcomeDroppedUnknown))
			return OutcomeDroppedUnknown
		}
		// Registry update closures above never fail; anything else is a
		// programming error worth a loud log, still non-fatal.
		logger.Error().Err(err).
			Str(log.FieldEvent, "result.update_failed").
			Str(log.FieldSessionID, msg.SessionID).
			Msg("unexpected registry failure, dropping result")
		metrics.IncResult(string(OutcomeDroppedUnknown))
		return OutcomeDroppedUnknown
	}

	switch outcome {
	case OutcomeDroppedCompleted:
		// Idempotent late-arrival tolerance: logged, never an error.
		logger.Debug().
			Str(log.FieldEvent, "result.late").
			Str(log.FieldSessionID, msg.SessionID).
			Str(log.FieldSourcePath, msg.SourcePath).
			Msg("ignoring result for completed session")
	case OutcomeDroppedNotActive:
		logger.Debug().
			Str(log.FieldEvent, "result.not_active").
			Str(log.FieldSessionID, msg.SessionID).
			Msg("ignoring result for finalizing session")
	default:
		if rt.index != nil {
			rt.index.Observe(msg.SessionID, msg.Categories)
			metrics.SetGlobalUniqueCategories(rt.index.Size())
		}
		if crossedBudget {
			metrics.IncOverBudget()
			logger.Warn().
				Str(log.FieldEvent, "session.over_budget").
				Str(log.FieldSessionID, msg.SessionID).
				Msg("session exceeded its declared capture budget")
		}
		logger.Info().
			Str(log.FieldEvent, "result.accepted").
			Str(log.FieldSessionID, msg.SessionID).
			Str(log.FieldSourcePath, msg.SourcePath).
			Int("item_count", msg.ItemCount).
			Str(log.FieldOutcome, string(outcome)).
			Msg("stage result applied")
	}

	metrics.IncResult(string(outcome))
	return outcome
}
