// SPDX-License-Identifier: MIT

// Package report renders finalized session state into the canonical
// analysis report and writes it to durable storage.
package report

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/decluttered-ai/reportd/internal/log"
	"github.com/decluttered-ai/reportd/internal/session"
)

// Filename suffix shared with downstream report consumers.
const reportSuffix = "_analysis_report_resellables.txt"

const separator = "----------------------------------------"

// WriteError wraps a durable-write failure. The session still completes
// in memory; the failure is surfaced through status and metrics only.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("report write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Generator renders and persists session reports.
type Generator struct {
	// DataDir is the directory reports are written into.
	DataDir string
	// WriteTimeout bounds the durable write so a slow disk cannot stall
	// the coordinator's timer loops.
	WriteTimeout time.Duration
}

// Path returns the report location for a session id.
func (g *Generator) Path(sessionID string) string {
	return filepath.Join(g.DataDir, sessionID+reportSuffix)
}

// Render produces the canonical textual report. Image records are
// ordered by their producer-declared timestamp, not arrival order, with
// arrival order as a stable tie-break. finalizedAt supplies both the
// generation header and the elapsed-duration summary.
func Render(s *session.Session, finalizedAt time.Time) string {
	var b strings.Builder

	if len(s.Images) == 0 {
		b.WriteString("No resellable objects were detected across all captures.\n")
		return b.String()
	}

	ordered := make([]session.ImageRecord, len(s.Images))
	copy(ordered, s.Images)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	b.WriteString("--- Declutter Detector Analysis Report ---\n\n")
	fmt.Fprintf(&b, "Session ID: %s\n", s.ID)
	fmt.Fprintf(&b, "Generated: %s\n\n", finalizedAt.Format("2006-01-02 15:04:05"))

	for _, rec := range ordered {
		b.WriteString(renderEntry(rec))
		b.WriteString("\n")
	}

	b.WriteString("\n--- Session Summary ---\n")
	fmt.Fprintf(&b, "Total Images Processed: %d\n", len(ordered))
	fmt.Fprintf(&b, "Total Unique Object Types: %d\n", len(s.Unique))
	fmt.Fprintf(&b, "Session Duration: %.1f seconds\n", finalizedAt.Sub(s.StartTime).Seconds())

	return b.String()
}

// renderEntry formats one per-image block.
func renderEntry(rec session.ImageRecord) string {
	filename := filepath.Base(rec.SourcePath)

	if len(rec.Categories) == 0 {
		return fmt.Sprintf("Capture: %s\n  - No resellable objects found\n%s", filename, separator)
	}

	return fmt.Sprintf(
		"Capture: %s\n"+
			"  - Resellable Objects: %s\n"+
			"  - Cropped Files: %s\n"+
			"  - Location (First Item): XYXY %s\n"+
			"  - Processing Summary: %d items processed\n"+
			"%s",
		filename,
		strings.Join(rec.Categories, ", "),
		strings.Join(rec.ArtifactNames, ", "),
		firstLocation(rec),
		len(rec.Categories),
		separator,
	)
}

// firstLocation picks the representative coordinates for an image: the
// detail of the first listed category that carries coordinates.
func firstLocation(rec session.ImageRecord) string {
	for _, cat := range rec.Categories {
		if d, ok := rec.Details[cat]; ok && len(d.Coordinates) == 4 {
			return fmt.Sprintf("(%d, %d, %d, %d)",
				d.Coordinates[0], d.Coordinates[1], d.Coordinates[2], d.Coordinates[3])
		}
	}
	return "(0, 0, 0, 0)"
}

// Write renders the session and persists the report atomically. The
// write is bounded by WriteTimeout (and ctx); on timeout the background
// write keeps running but the caller gets a WriteError immediately.
func (g *Generator) Write(ctx context.Context, s *session.Session, finalizedAt time.Time) (string, error) {
	path := g.Path(s.ID)
	content := Render(s, finalizedAt)

	if g.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.WriteTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- writeAtomic(path, content)
	}()

	select {
	case err := <-done:
		if err != nil {
			return path, &WriteError{Path: path, Err: err}
		}
		return path, nil
	case <-ctx.Done():
		logger := log.WithComponentFromContext(ctx, "report")
		logger.Warn().
			Str(log.FieldEvent, "report.write_timeout").
			Str(log.FieldReportPath, path).
			Msg("report write exceeded its deadline")
		return path, &WriteError{Path: path, Err: ctx.Err()}
	}
}

// writeAtomic persists content with fsync-before-rename durability.
func writeAtomic(path, content string) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending report file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.WriteString(content); err != nil {
		return fmt.Errorf("write report data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace report file: %w", err)
	}
	return nil
}
