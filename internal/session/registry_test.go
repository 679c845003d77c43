// SPDX-License-Identifier: MIT

package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{DurationSeconds: 20, MaxCaptures: 10, CooldownSeconds: 1.0}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	first, err := r.Create("s1", validConfig(), now)
	require.NoError(t, err)
	require.Equal(t, StatusActive, first.Status)

	_, err = r.Create("s1", Config{DurationSeconds: 99, MaxCaptures: 1}, now)
	require.ErrorIs(t, err, ErrDuplicateSession)

	// First creation wins: config is unchanged.
	snap, err := r.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, 20, snap.Config.DurationSeconds)
	assert.EqualValues(t, 1, r.TotalCreated())
}

func TestCreateValidatesConfig(t *testing.T) {
	r := NewRegistry()
	cases := []Config{
		{DurationSeconds: 0, MaxCaptures: 5},
		{DurationSeconds: 10, MaxCaptures: 0},
		{DurationSeconds: 10, MaxCaptures: 5, CooldownSeconds: -0.5},
	}
	for _, cfg := range cases {
		_, err := r.Create("bad", cfg, time.Now())
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
	_, err := r.Create("", validConfig(), time.Now())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStatusTransitionTable(t *testing.T) {
	assert.True(t, StatusActive.CanTransition(StatusFinalizing))
	assert.True(t, StatusFinalizing.CanTransition(StatusCompleted))

	assert.False(t, StatusActive.CanTransition(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransition(StatusActive))
	assert.False(t, StatusCompleted.CanTransition(StatusFinalizing))
	assert.False(t, StatusFinalizing.CanTransition(StatusActive))
}

func TestTransitionEnforcesTable(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("s1", validConfig(), time.Now())
	require.NoError(t, err)

	require.NoError(t, r.Transition("s1", StatusFinalizing))
	require.NoError(t, r.Transition("s1", StatusCompleted))

	err = r.Transition("s1", StatusActive)
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = r.Transition("missing", StatusFinalizing)
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestAppendOnlyWhileActive(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("s1", validConfig(), time.Now())
	require.NoError(t, err)

	rec := ImageRecord{SourcePath: "/tmp/cap_1.jpg", Timestamp: 100, ItemCount: 2}
	require.NoError(t, r.Append("s1", rec))

	require.NoError(t, r.Transition("s1", StatusFinalizing))
	err = r.Append("s1", rec)
	require.ErrorIs(t, err, ErrSessionNotActive)

	require.NoError(t, r.Transition("s1", StatusCompleted))
	err = r.Append("s1", rec)
	require.ErrorIs(t, err, ErrSessionNotActive)

	snap, err := r.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ImagesProcessed())
	assert.Equal(t, 2, snap.TotalObjects)
}

func TestAppendBeyondBudgetFlagsAnomaly(t *testing.T) {
	r := NewRegistry()
	cfg := Config{DurationSeconds: 60, MaxCaptures: 2}
	_, err := r.Create("s1", cfg, time.Now())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Append("s1", ImageRecord{SourcePath: "p", Timestamp: int64(i + 1)}))
	}

	snap, err := r.Snapshot("s1")
	require.NoError(t, err)
	// Over-budget results are recorded, flagged, never capped.
	assert.Equal(t, 3, snap.ImagesProcessed())
	assert.True(t, snap.OverBudget)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("s1", validConfig(), time.Now())
	require.NoError(t, err)
	require.NoError(t, r.Append("s1", ImageRecord{
		SourcePath: "p",
		Timestamp:  1,
		Categories: []string{"laptop"},
		Details:    map[string]Detail{"laptop": {Coordinates: []int{1, 2, 3, 4}}},
	}))

	snap, err := r.Snapshot("s1")
	require.NoError(t, err)
	snap.Images[0].Categories[0] = "mutated"
	snap.Images[0].Details["laptop"].Coordinates[0] = 99
	snap.Unique["injected"] = struct{}{}

	fresh, err := r.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, "laptop", fresh.Images[0].Categories[0])
	assert.Equal(t, 1, fresh.Images[0].Details["laptop"].Coordinates[0])
	assert.NotContains(t, fresh.Unique, "injected")
}

func TestDeadlineUsesDurationPlusBuffer(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{Config: Config{DurationSeconds: 5, MaxCaptures: 1}, StartTime: start}
	assert.Equal(t, start.Add(35*time.Second), s.Deadline(30*time.Second))
}

func TestConcurrentUpdatesOnDistinctSessions(t *testing.T) {
	r := NewRegistry()
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := r.Create(id, validConfig(), time.Now())
		require.NoError(t, err)
	}

	const perSession = 50
	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < perSession; i++ {
			wg.Add(1)
			go func(id string, i int) {
				defer wg.Done()
				_ = r.Append(id, ImageRecord{SourcePath: "p", Timestamp: int64(i + 1)})
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range ids {
		snap, err := r.Snapshot(id)
		require.NoError(t, err)
		assert.Equal(t, perSession, snap.ImagesProcessed(), "session %s lost appends", id)
	}
}

func TestCleanupDropsOnlyCompleted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"done", "busy"} {
		_, err := r.Create(id, validConfig(), time.Now())
		require.NoError(t, err)
	}
	require.NoError(t, r.Transition("done", StatusFinalizing))
	require.NoError(t, r.Transition("done", StatusCompleted))

	assert.Equal(t, 1, r.Cleanup())

	_, err := r.Snapshot("done")
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = r.Snapshot("busy")
	assert.NoError(t, err)

	// Creation counter is historical, not a live count.
	assert.EqualValues(t, 2, r.TotalCreated())
}

func TestUpdateErrorsPropagate(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("s1", validConfig(), time.Now())
	require.NoError(t, err)

	sentinel := errors.New("boom")
	err = r.Update("s1", func(*Session) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}
