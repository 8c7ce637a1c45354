package model

import (
	"time"

	"github.com/wessley-search/splitcore/internal/checkpoint"
)

// SortOrder is the direction a split's documents are sorted by, when
// IndexingSettings.SortByField is set.
type SortOrder int

const (
	SortAsc SortOrder = iota
	SortDesc
)

// Compression identifies the docstore block compression codec.
type Compression int

const (
	CompressionZstd Compression = iota
	CompressionNone
)

// IndexingSettings configures how documents are turned into splits (spec §3,
// §4.3).
type IndexingSettings struct {
	TimestampField     string        // "" if none configured
	PartitionField     string        // "" means every doc hashes to partition key 0
	SortByField        string        // "" for unsorted
	SortOrder          SortOrder
	SplitNumDocsTarget int           // commit trigger: num_valid_docs_in_workbench >= this
	CommitTimeout      time.Duration // commit trigger: workbench age
	DocstoreBlockSize  int           // bytes per docstore block
	Compression        Compression
	CompressionLevel   int // zstd level, ignored for CompressionNone
	ResourceBudgetMB   int
}

// DefaultIndexingSettings mirrors spec §5's defaults.
var DefaultIndexingSettings = IndexingSettings{
	SplitNumDocsTarget: 5_000_000,
	CommitTimeout:      60 * time.Second,
	DocstoreBlockSize:  1 << 20,
	Compression:        CompressionZstd,
	CompressionLevel:   3,
}

// SearchSettings configures the search leaf's consumption of a split; the
// query parser and scorer themselves are out of scope (spec §1).
type SearchSettings struct {
	DefaultFields []string
}

// SourceKind enumerates the source variants spec §3 names.
type SourceKind int

const (
	SourceFile SourceKind = iota
	SourceStdin
	SourceKafka
	SourceKinesis
	SourceIngestAPI
	SourceVec
	SourceVoid
)

func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourceStdin:
		return "stdin"
	case SourceKafka:
		return "kafka"
	case SourceKinesis:
		return "kinesis"
	case SourceIngestAPI:
		return "ingest_api"
	case SourceVec:
		return "vec"
	default:
		return "void"
	}
}

// SourceConfig is the persisted configuration for one configured source
// within an index (spec §3, §4.9 add_source/delete_source).
type SourceConfig struct {
	SourceID string
	Kind     SourceKind

	// File
	Path string

	// Kafka
	Topic          string
	ClientParams   map[string]string
	KafkaBackfill  bool

	// Kinesis
	Stream   string
	Region   string
	Endpoint string

	// Vec
	StaticDocs []string
}

// IndexMetadata is the full persisted record for one index (spec §3, §6).
type IndexMetadata struct {
	IndexID          string
	Schema           Schema
	IndexingSettings IndexingSettings
	SearchSettings   SearchSettings
	Sources          map[string]SourceConfig
	Checkpoint       map[string]checkpoint.SourceCheckpoint // source id -> checkpoint
	IndexRootURI     string
	CreateTimestamp  time.Time
	UpdateTimestamp  time.Time
}

// NewIndexMetadata constructs an IndexMetadata with empty checkpoints/sources,
// as create_index requires (spec §4.9).
func NewIndexMetadata(indexID, rootURI string, schema Schema, is IndexingSettings, ss SearchSettings) IndexMetadata {
	now := time.Now()
	return IndexMetadata{
		IndexID:          indexID,
		Schema:           schema,
		IndexingSettings: is,
		SearchSettings:   ss,
		Sources:          make(map[string]SourceConfig),
		Checkpoint:       make(map[string]checkpoint.SourceCheckpoint),
		IndexRootURI:     rootURI,
		CreateTimestamp:  now,
		UpdateTimestamp:  now,
	}
}
