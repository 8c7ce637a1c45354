// Command metastore-tool is the small admin CLI SPEC_FULL.md's module
// layout names: create/inspect indexes, list splits, manage sources.
// Subcommands mirror the metastore operations directly rather than
// wrapping them in any higher-level workflow (spec.md §4.9).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/wessley-search/splitcore/internal/config"
	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/metastore/filestore"
	"github.com/wessley-search/splitcore/internal/metastore/sqlstore"
	"github.com/wessley-search/splitcore/internal/model"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	metastoreKind := fs.String("metastore", "file", "metastore backend: file or postgres")
	metastoreRoot := fs.String("metastore-dir", "${SPLITCORE_METASTORE_DIR:-/tmp/splitcore-metastore}", "filestore root directory (metastore=file)")
	metastoreDSN := fs.String("metastore-dsn", "${SPLITCORE_METASTORE_DSN:-}", "database/sql DSN (metastore=postgres)")

	var run func(context.Context, metastore.Metastore, []string) error
	switch cmd {
	case "create-index":
		run = createIndex
	case "delete-index":
		run = deleteIndex
	case "list-indexes":
		run = listIndexes
	case "list-splits":
		run = listSplits
	case "add-source":
		run = addSource
	case "delete-source":
		run = deleteSource
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "metastore-tool: unknown subcommand %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	ms, err := openMetastore(*metastoreKind, *metastoreRoot, *metastoreDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metastore-tool: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), ms, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "metastore-tool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: metastore-tool <subcommand> [flags] [args]

subcommands:
  create-index <index_id> <root_uri> <schema.json>   create an index from a schema file
  delete-index <index_id>                             delete an index and all its splits
  list-indexes                                         list every index
  list-splits <index_id> [state]                       list an index's splits, optionally filtered by state
  add-source <index_id> <source.json>                  add a source from a config file
  delete-source <index_id> <source_id>                 remove a source`)
}

func openMetastore(kind, root, dsn string) (metastore.Metastore, error) {
	switch kind {
	case "file":
		expanded, err := config.ExpandEnv(root)
		if err != nil {
			return nil, err
		}
		return filestore.New(expanded, slog.Default()), nil
	case "postgres":
		expanded, err := config.ExpandEnv(dsn)
		if err != nil {
			return nil, err
		}
		if expanded == "" {
			return nil, fmt.Errorf("-metastore-dsn is required when -metastore=postgres")
		}
		return sqlstore.Open(expanded)
	default:
		return nil, fmt.Errorf("unknown -metastore kind %q (want file or postgres)", kind)
	}
}

// schemaFile is the on-disk shape create-index reads: field descriptors by
// human-readable type name instead of model.FieldType's raw int, since this
// file is meant to be hand-written by an operator.
type schemaFile struct {
	Fields           []fieldSpec            `json:"fields"`
	IndexingSettings model.IndexingSettings `json:"indexing_settings"`
	SearchSettings   model.SearchSettings   `json:"search_settings"`
}

type fieldSpec struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Indexed   bool   `json:"indexed"`
	Stored    bool   `json:"stored"`
	FastField bool   `json:"fast_field"`
	Required  bool   `json:"required"`
}

func parseFieldType(s string) (model.FieldType, error) {
	switch s {
	case "text":
		return model.FieldText, nil
	case "i64":
		return model.FieldI64, nil
	case "u64":
		return model.FieldU64, nil
	case "f64":
		return model.FieldF64, nil
	case "bool":
		return model.FieldBool, nil
	case "datetime":
		return model.FieldDateTime, nil
	case "bytes":
		return model.FieldBytes, nil
	default:
		return 0, fmt.Errorf("unknown field type %q (want text, i64, u64, f64, bool, datetime, bytes)", s)
	}
}

func createIndex(ctx context.Context, ms metastore.Metastore, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("create-index requires <index_id> <root_uri> <schema.json>")
	}
	indexID, rootURI, schemaPath := args[0], args[1], args[2]

	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	var sf schemaFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("parse schema file: %w", err)
	}

	schema := make(model.Schema, len(sf.Fields))
	for _, f := range sf.Fields {
		t, err := parseFieldType(f.Type)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		schema[f.Name] = model.FieldDescriptor{
			Name: f.Name, Type: t, Indexed: f.Indexed,
			Stored: f.Stored, FastField: f.FastField, Required: f.Required,
		}
	}

	meta := model.NewIndexMetadata(indexID, rootURI, schema, sf.IndexingSettings, sf.SearchSettings)
	if err := ms.CreateIndex(ctx, meta); err != nil {
		return err
	}
	fmt.Printf("created index %q (%d fields)\n", indexID, len(schema))
	return nil
}

func deleteIndex(ctx context.Context, ms metastore.Metastore, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("delete-index requires <index_id>")
	}
	if err := ms.DeleteIndex(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted index %q\n", args[0])
	return nil
}

func listIndexes(ctx context.Context, ms metastore.Metastore, args []string) error {
	metas, err := ms.ListIndexesMetadatas(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "INDEX_ID\tROOT_URI\tSOURCES\tCREATED")
	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.IndexID, m.IndexRootURI, len(m.Sources), m.CreateTimestamp.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func listSplits(ctx context.Context, ms metastore.Metastore, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("list-splits requires <index_id> [state]")
	}
	indexID := args[0]

	var state *model.SplitState
	if len(args) == 2 {
		s, err := parseSplitState(args[1])
		if err != nil {
			return err
		}
		state = &s
	}

	splits, err := ms.ListSplits(ctx, indexID, state, nil, nil)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "SPLIT_ID\tSTATE\tNUM_DOCS\tPARTITION\tCREATED")
	for _, s := range splits {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", s.SplitID, s.State, s.NumDocs, s.PartitionID, s.CreateTimestamp.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func parseSplitState(s string) (model.SplitState, error) {
	switch s {
	case "staged":
		return model.SplitStaged, nil
	case "published":
		return model.SplitPublished, nil
	case "marked_for_deletion":
		return model.SplitMarkedForDeletion, nil
	default:
		return 0, fmt.Errorf("unknown split state %q (want staged, published, marked_for_deletion)", s)
	}
}

// sourceFile is add-source's on-disk shape: same fields as
// model.SourceConfig, but Kind is a human-readable name rather than
// model.SourceKind's raw int, since this file is meant to be hand-written.
type sourceFile struct {
	SourceID      string            `json:"source_id"`
	Kind          string            `json:"kind"`
	Path          string            `json:"path"`
	Topic         string            `json:"topic"`
	ClientParams  map[string]string `json:"client_params"`
	KafkaBackfill bool              `json:"kafka_backfill"`
	Stream        string            `json:"stream"`
	Region        string            `json:"region"`
	Endpoint      string            `json:"endpoint"`
	StaticDocs    []string          `json:"static_docs"`
}

func parseSourceKind(s string) (model.SourceKind, error) {
	switch s {
	case "file":
		return model.SourceFile, nil
	case "stdin":
		return model.SourceStdin, nil
	case "kafka":
		return model.SourceKafka, nil
	case "kinesis":
		return model.SourceKinesis, nil
	case "ingest_api":
		return model.SourceIngestAPI, nil
	case "vec":
		return model.SourceVec, nil
	case "void":
		return model.SourceVoid, nil
	default:
		return 0, fmt.Errorf("unknown source kind %q (want file, stdin, kafka, kinesis, ingest_api, vec, void)", s)
	}
}

func addSource(ctx context.Context, ms metastore.Metastore, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("add-source requires <index_id> <source.json>")
	}
	indexID, sourcePath := args[0], args[1]

	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	var sf sourceFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("parse source file: %w", err)
	}
	if sf.SourceID == "" {
		return fmt.Errorf("source file must set source_id")
	}
	kind, err := parseSourceKind(sf.Kind)
	if err != nil {
		return err
	}

	sc := model.SourceConfig{
		SourceID: sf.SourceID, Kind: kind, Path: sf.Path, Topic: sf.Topic,
		ClientParams: sf.ClientParams, KafkaBackfill: sf.KafkaBackfill,
		Stream: sf.Stream, Region: sf.Region, Endpoint: sf.Endpoint,
		StaticDocs: sf.StaticDocs,
	}
	if err := ms.AddSource(ctx, indexID, sc); err != nil {
		return err
	}
	fmt.Printf("added source %q (kind=%s) to index %q\n", sc.SourceID, sc.Kind, indexID)
	return nil
}

func deleteSource(ctx context.Context, ms metastore.Metastore, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("delete-source requires <index_id> <source_id>")
	}
	if err := ms.DeleteSource(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("deleted source %q from index %q\n", args[1], args[0])
	return nil
}
