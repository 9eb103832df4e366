package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ErrContextExists is returned when a layer context is written twice.
var ErrContextExists = errors.New("layer context already recorded")

// Column describes one column of a layer output.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// QualityMetrics summarizes null distribution in a layer output.
type QualityMetrics struct {
	// Completeness is 1 - nulls/(rows*columnsChecked), rounded to 4 places.
	Completeness float64 `json:"completeness"`
	// NullCounts maps column name to the number of null values.
	NullCounts map[string]int64 `json:"null_counts,omitempty"`
	// RecordsWithNulls counts rows with at least one null in a checked column.
	RecordsWithNulls int64 `json:"records_with_nulls"`
	// ColumnsChecked is the number of columns included in the null scan.
	ColumnsChecked int `json:"columns_checked"`
	// AvgQualityScore is the mean data_quality_score, when the layer has one.
	AvgQualityScore *float64 `json:"avg_quality_score,omitempty"`
}

// Clone returns a deep copy of the metrics.
func (q QualityMetrics) Clone() QualityMetrics {
	out := q
	out.NullCounts = maps.Clone(q.NullCounts)
	if q.AvgQualityScore != nil {
		v := *q.AvgQualityScore
		out.AvgQualityScore = &v
	}
	return out
}

// LayerContext is the enriched summary of a completed layer. Entries are
// created once by the Enrich step and read by every later layer.
type LayerContext struct {
	LayerName             Layer            `json:"layer_name"`
	OutputReference       string           `json:"output_reference"`
	SchemaSummary         []Column         `json:"schema_summary"`
	SampleRows            []map[string]any `json:"sample_rows"`
	RowCount              int64            `json:"row_count"`
	QualityMetrics        QualityMetrics   `json:"quality_metrics"`
	TransformationSummary string           `json:"transformation_summary,omitempty"`
	ApprovalReference     string           `json:"approval_reference"`
	ApprovalSatisfied     bool             `json:"approval_satisfied"`
	CreatedAt             time.Time        `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate a stored context.
func (c LayerContext) Clone() LayerContext {
	out := c
	out.SchemaSummary = slices.Clone(c.SchemaSummary)
	if c.SampleRows != nil {
		out.SampleRows = make([]map[string]any, len(c.SampleRows))
		for i, row := range c.SampleRows {
			out.SampleRows[i] = maps.Clone(row)
		}
	}
	out.QualityMetrics = c.QualityMetrics.Clone()
	return out
}

// ContextStore maps completed layers to their context. Each layer may be
// written once; reads return copies.
type ContextStore struct {
	entries map[Layer]LayerContext
}

// NewContextStore creates an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{entries: make(map[Layer]LayerContext)}
}

// Put records the context for its layer.
func (s *ContextStore) Put(ctx LayerContext) error {
	if !ctx.LayerName.Valid() {
		return fmt.Errorf("put layer context: invalid layer %q", ctx.LayerName)
	}
	if s.entries == nil {
		s.entries = make(map[Layer]LayerContext)
	}
	if _, ok := s.entries[ctx.LayerName]; ok {
		return fmt.Errorf("%w: %s", ErrContextExists, ctx.LayerName)
	}
	s.entries[ctx.LayerName] = ctx.Clone()
	return nil
}

// Get returns a copy of the context for a layer.
func (s *ContextStore) Get(layer Layer) (LayerContext, bool) {
	if s == nil {
		return LayerContext{}, false
	}
	c, ok := s.entries[layer]
	if !ok {
		return LayerContext{}, false
	}
	return c.Clone(), true
}

// Has reports whether a context exists for the layer.
func (s *ContextStore) Has(layer Layer) bool {
	if s == nil {
		return false
	}
	_, ok := s.entries[layer]
	return ok
}

// Len returns the number of recorded contexts.
func (s *ContextStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Layers returns the recorded layers in canonical order.
func (s *ContextStore) Layers() []Layer {
	var out []Layer
	for _, l := range CanonicalLayers() {
		if s.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

// Clone returns a deep copy of the store.
func (s *ContextStore) Clone() *ContextStore {
	out := NewContextStore()
	if s == nil {
		return out
	}
	for l, c := range s.entries {
		out.entries[l] = c.Clone()
	}
	return out
}

// MarshalJSON encodes the store as an object keyed by layer name.
func (s *ContextStore) MarshalJSON() ([]byte, error) {
	if s == nil || s.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.entries)
}

// UnmarshalJSON decodes an object keyed by layer name. Duplicate keys in the
// input are rejected by the write-once rule.
func (s *ContextStore) UnmarshalJSON(data []byte) error {
	var raw map[Layer]LayerContext
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode layer contexts: %w", err)
	}
	s.entries = make(map[Layer]LayerContext, len(raw))
	for l, c := range raw {
		if c.LayerName == "" {
			c.LayerName = l
		}
		if c.LayerName != l {
			return fmt.Errorf("decode layer contexts: key %q holds context for %q", l, c.LayerName)
		}
		if err := s.Put(c); err != nil {
			return err
		}
	}
	return nil
}
