// Package docmapper parses raw documents against an index schema and
// computes the two values the indexer needs before it can route a document
// to a workbench split: a partition key and, when configured, a timestamp
// (spec.md §3, §4.3; supplemented in SPEC_FULL.md §5.3 since spec.md treats
// the doc mapper as a given collaborator without specifying it).
package docmapper

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/wessley-search/splitcore/internal/model"
)

// Outcome classifies a parsed document the way the indexer's counters do
// (spec.md §4.3: "document classification counters").
type Outcome int

const (
	Valid Outcome = iota
	ParseError
	MissingField
)

func (o Outcome) String() string {
	switch o {
	case ParseError:
		return "parse_error"
	case MissingField:
		return "missing_field"
	default:
		return "valid"
	}
}

// Doc is a parsed document ready for the indexer's segment writer.
type Doc struct {
	Fields       map[string]any
	Timestamp    time.Time
	HasTimestamp bool
	PartitionKey uint64
}

// Mapper validates and routes raw JSON documents according to an index's
// schema and indexing settings.
type Mapper struct {
	schema   model.Schema
	settings model.IndexingSettings
}

// New builds a Mapper bound to one index's schema and indexing settings.
func New(schema model.Schema, settings model.IndexingSettings) *Mapper {
	return &Mapper{schema: schema, settings: settings}
}

// Map parses one raw JSON document, classifying it and computing its
// partition key and timestamp. A non-nil error only ever carries a
// *model.Error of KindConfig (malformed JSON) — callers should route that
// into the ParseError counter rather than treat it as fatal (spec.md §4.3:
// all-invalid-batch handling still publishes an empty split batch).
func (m *Mapper) Map(raw []byte) (Doc, Outcome, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Doc{}, ParseError, model.NewError(model.KindConfig, "docmapper.Map", err)
	}

	for name, fd := range m.schema {
		if !fd.Required {
			continue
		}
		if _, ok := fields[name]; !ok {
			return Doc{}, MissingField, nil
		}
	}

	doc := Doc{Fields: fields}

	if m.settings.TimestampField != "" {
		ts, ok, err := extractTimestamp(fields[m.settings.TimestampField])
		if err != nil {
			return Doc{}, ParseError, model.NewError(model.KindConfig, "docmapper.Map", err)
		}
		if !ok {
			return Doc{}, MissingField, nil
		}
		doc.Timestamp = ts
		doc.HasTimestamp = true
	}

	doc.PartitionKey = m.partitionKey(fields)
	return doc, Valid, nil
}

// partitionKey hashes the configured partition field's value with xxhash,
// so every document sharing that value lands in the same split (spec.md §3,
// invariant 6 "partition homogeneity"). An unconfigured partition field, or
// a document missing it, always maps to key 0 — a single implicit partition.
func (m *Mapper) partitionKey(fields map[string]any) uint64 {
	if m.settings.PartitionField == "" {
		return 0
	}
	v, ok := fields[m.settings.PartitionField]
	if !ok {
		return 0
	}
	return xxhash.Sum64String(fmt.Sprint(v))
}

// extractTimestamp accepts either an integer number of seconds since the
// epoch or an RFC3339 string, per spec.md §3 ("the timestamp field: integer
// seconds or RFC3339").
func extractTimestamp(v any) (time.Time, bool, error) {
	if v == nil {
		return time.Time{}, false, nil
	}
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC(), true, nil
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return time.Time{}, false, fmt.Errorf("timestamp field: %w", err)
		}
		return time.Unix(i, 0).UTC(), true, nil
	case string:
		ts, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("timestamp field: %w", err)
		}
		return ts.UTC(), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("timestamp field: unsupported type %T", v)
	}
}
