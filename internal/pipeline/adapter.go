package pipeline

import (
	"fmt"
	"strings"

	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/internal/source"
)

// defaultBatchSize is the batch size passed to every adapter. It matches
// the adapter constructors' own "<=0 means 1000" default; KinesisSource is
// built as a struct literal and has no such default of its own.
const defaultBatchSize = 1000

// newAdapter builds the concrete source.Source named by cfg.Kind, plus an
// optional closer the pipeline must call on shutdown (file handles; NATS
// subscriptions close with the JetStream context itself, so no closer).
func newAdapter(indexID, sourceID string, cfg model.SourceConfig, deps Deps) (source.Source, func() error, error) {
	switch cfg.Kind {
	case model.SourceFile:
		fs, err := source.NewFileSource(sourceID, cfg.Path, defaultBatchSize)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs.Close, nil

	case model.SourceStdin:
		return source.NewStdinSource(sourceID, defaultBatchSize), nil, nil

	case model.SourceKafka:
		brokers := splitCSV(cfg.ClientParams["brokers"])
		groupID := cfg.ClientParams["group_id"]
		ks := source.NewKafkaSource(sourceID, indexID, cfg.Topic, brokers, groupID, cfg.KafkaBackfill, defaultBatchSize, deps.Metastore)
		return ks, ks.Close, nil

	case model.SourceKinesis:
		return &source.KinesisSource{
			SourceID: sourceID, Stream: cfg.Stream, Region: cfg.Region,
			Endpoint: cfg.Endpoint, BatchSize: defaultBatchSize,
		}, nil, nil

	case model.SourceIngestAPI:
		if deps.NATSStream == nil {
			return nil, nil, fmt.Errorf("pipeline: source %q is kind ingest_api but no JetStream context was configured", sourceID)
		}
		subject := "splitcore." + indexID + "." + sourceID
		durable := indexID + "-" + sourceID
		ias, err := source.NewIngestAPISource(deps.NATSStream, sourceID, subject, durable, defaultBatchSize)
		if err != nil {
			return nil, nil, err
		}
		return ias, nil, nil

	case model.SourceVec:
		return source.NewVecSource(sourceID, cfg.StaticDocs, defaultBatchSize), nil, nil

	case model.SourceVoid:
		return source.VoidSource{}, nil, nil

	default:
		return nil, nil, fmt.Errorf("pipeline: unknown source kind %v for source %q", cfg.Kind, sourceID)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
