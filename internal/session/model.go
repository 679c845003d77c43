// SPDX-License-Identifier: MIT

// Package session holds the authoritative state for capture sessions:
// the data model, the status lifecycle and the in-memory registry.
package session

import (
	"fmt"
	"time"
)

// Config is the immutable per-session configuration captured at creation.
type Config struct {
	DurationSeconds int     `json:"duration_seconds" yaml:"duration_seconds"`
	MaxCaptures     int     `json:"max_captures" yaml:"max_captures"`
	CooldownSeconds float64 `json:"cooldown_seconds" yaml:"cooldown_seconds"`
}

// Validate checks the config against the message contract bounds.
func (c Config) Validate() error {
	if c.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration_seconds must be > 0, got %d", ErrInvalidConfig, c.DurationSeconds)
	}
	if c.MaxCaptures <= 0 {
		return fmt.Errorf("%w: max_captures must be > 0, got %d", ErrInvalidConfig, c.MaxCaptures)
	}
	if c.CooldownSeconds < 0 {
		return fmt.Errorf("%w: cooldown_seconds must be >= 0, got %v", ErrInvalidConfig, c.CooldownSeconds)
	}
	return nil
}

// Detail is the per-category processing payload produced by the upstream
// processing stage. It is carried into the report verbatim and never takes
// part in category identity.
type Detail struct {
	Coordinates []int   `json:"coordinates,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	CroppedFile string  `json:"cropped_file,omitempty"`
}

// ImageRecord is one per-image stage result as accepted by the router.
// Records are stored in arrival order; Timestamp is the producer-declared
// ordering key used at render time only.
type ImageRecord struct {
	SourcePath    string            `json:"source_path"`
	Timestamp     int64             `json:"timestamp"`
	Categories    []string          `json:"categories"`
	ArtifactNames []string          `json:"artifact_names"`
	Details       map[string]Detail `json:"per_category_detail,omitempty"`
	ItemCount     int               `json:"item_count"`
	ReceivedAt    time.Time         `json:"received_at"`
}

func (r ImageRecord) clone() ImageRecord {
	out := r
	out.Categories = append([]string(nil), r.Categories...)
	out.ArtifactNames = append([]string(nil), r.ArtifactNames...)
	if r.Details != nil {
		out.Details = make(map[string]Detail, len(r.Details))
		for k, v := range r.Details {
			d := v
			d.Coordinates = append([]int(nil), v.Coordinates...)
			out.Details[k] = d
		}
	}
	return out
}

// Session is the unit of coordination. All mutation goes through the
// Registry, which serializes writers per session id.
type Session struct {
	ID        string    `json:"id"`
	Config    Config    `json:"config"`
	Status    Status    `json:"status"`
	StartTime time.Time `json:"start_time"`

	Images       []ImageRecord       `json:"image_records"`
	Unique       map[string]struct{} `json:"-"`
	TotalObjects int                 `json:"total_objects_found"`

	// OverBudget flags sessions that received more results than
	// Config.MaxCaptures. Recorded as an anomaly, never rejected.
	OverBudget bool `json:"over_budget,omitempty"`

	ReportPath  string    `json:"report_path,omitempty"`
	FinalizedAt time.Time `json:"finalized_at,omitempty"`
}

// ImagesProcessed equals the number of accepted image records.
func (s *Session) ImagesProcessed() int {
	return len(s.Images)
}

// Deadline returns the instant at which the timeout supervisor must force
// finalization: start + configured duration + the uniform grace buffer.
func (s *Session) Deadline(buffer time.Duration) time.Time {
	return s.StartTime.Add(time.Duration(s.Config.DurationSeconds)*time.Second + buffer)
}

// UniqueCategories returns the normalized category set as a sorted-free copy.
func (s *Session) UniqueCategories() []string {
	out := make([]string, 0, len(s.Unique))
	for name := range s.Unique {
		out = append(out, name)
	}
	return out
}

// Clone returns a deep copy safe to hand to readers outside the registry lock.
func (s *Session) Clone() *Session {
	out := *s
	out.Images = make([]ImageRecord, len(s.Images))
	for i := range s.Images {
		out.Images[i] = s.Images[i].clone()
	}
	out.Unique = make(map[string]struct{}, len(s.Unique))
	for name := range s.Unique {
		out.Unique[name] = struct{}{}
	}
	return &out
}
