// Command indexer runs one index's ingestion pipeline end to end: every
// configured source, through packaging, upload, sequencing, publish, and
// merge planning (internal/pipeline). It is the single long-running
// process an operator starts per index, analogous to how cmd/ingest is the
// teacher's single long-running process per scrape directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/wessley-search/splitcore/internal/config"
	"github.com/wessley-search/splitcore/internal/merge"
	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/metastore/filestore"
	"github.com/wessley-search/splitcore/internal/metastore/sqlstore"
	"github.com/wessley-search/splitcore/internal/pipeline"
	"github.com/wessley-search/splitcore/internal/storage"
	"github.com/wessley-search/splitcore/pkg/idgen"
	"github.com/wessley-search/splitcore/pkg/metrics"
	"github.com/wessley-search/splitcore/pkg/mid"
	"github.com/wessley-search/splitcore/pkg/resilience"
)

var met = metrics.New()

func main() {
	var (
		indexID       = flag.String("index", "", "index id to run (required)")
		metastoreKind = flag.String("metastore", "file", "metastore backend: file or postgres")
		metastoreRoot = flag.String("metastore-dir", "${SPLITCORE_METASTORE_DIR:-/tmp/splitcore-metastore}", "filestore root directory (metastore=file)")
		metastoreDSN  = flag.String("metastore-dsn", "${SPLITCORE_METASTORE_DSN:-}", "database/sql DSN (metastore=postgres)")
		natsURL       = flag.String("nats", "${SPLITCORE_NATS_URL:-}", "NATS URL; required only if the index has an ingest_api source")
		uploadConc    = flag.Int("upload-concurrency", 4, "max concurrent split uploads")
		metricsPort   = flag.Int("metrics-port", 9092, "port to serve /metrics on")
		mergeMinFctr  = flag.Int("merge-min-factor", 2, "minimum under-target splits combined per merge op")
		mergeTarget   = flag.Int("merge-target-docs", 1_000_000, "docs per split below which a split is a merge candidate")
		mergeMaxDemux = flag.Int("merge-max-demux-ops", 8, "demux_num_ops above which a split is a demux candidate")
	)
	flag.Parse()

	log := slog.Default()

	if *indexID == "" {
		log.Error("indexer: -index is required")
		os.Exit(1)
	}

	serveMetrics(log, *metricsPort)

	ms, err := openMetastore(*metastoreKind, *metastoreRoot, *metastoreDSN, log)
	if err != nil {
		log.Error("indexer: open metastore failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	meta, err := ms.IndexMetadata(ctx, *indexID)
	if err != nil {
		log.Error("indexer: load index metadata failed", "index_id", *indexID, "error", err)
		os.Exit(1)
	}

	st, err := storage.Open(ctx, meta.IndexRootURI)
	if err != nil {
		log.Error("indexer: open storage failed", "index_root_uri", meta.IndexRootURI, "error", err)
		os.Exit(1)
	}
	if err := st.CheckConnectivity(ctx); err != nil {
		log.Error("indexer: storage connectivity check failed", "error", err)
		os.Exit(1)
	}

	var js nats.JetStreamContext
	if resolved, err := config.ExpandEnv(*natsURL); err == nil && resolved != "" {
		nc, err := nats.Connect(resolved)
		if err != nil {
			log.Error("indexer: nats connect failed", "url", resolved, "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		js, err = nc.JetStream()
		if err != nil {
			log.Error("indexer: jetstream context failed", "error", err)
			os.Exit(1)
		}
		log.Info("indexer: connected to NATS JetStream", "url", resolved)
	}

	deps := pipeline.Deps{
		Metastore:  ms,
		Storage:    st,
		MetricsReg: met,
		Log:        log,
		MergePolicy: merge.Policy{
			MinMergeFactor:     *mergeMinFctr,
			TargetDocsPerSplit: *mergeTarget,
			MaxDemuxOps:        *mergeMaxDemux,
		},
		Breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		UploadSem:  semaphore.NewWeighted(int64(*uploadConc)),
		IDs:        idgen.NewSource(),
		NATSStream: js,
	}

	p, err := pipeline.Build(ctx, meta, deps)
	if err != nil {
		log.Error("indexer: build pipeline failed", "index_id", *indexID, "error", err)
		os.Exit(1)
	}

	log.Info("indexer: pipeline starting", "index_id", *indexID, "num_sources", len(meta.Sources))
	results := p.Run(ctx)
	for name, status := range results {
		log.Info("indexer: actor exited", "actor", name, "status", status.String())
	}
	log.Info("indexer: pipeline stopped", "index_id", *indexID)
}

// serveMetrics exposes met.Handler() on /metrics, wrapped the way the
// teacher's engine/domain handlers wrap their own routes (pkg/mid.Chain:
// recover-then-log-then-trace, outermost to innermost) rather than the bare
// metrics.Registry.ServeAsync this package's upstream would otherwise use.
func serveMetrics(log *slog.Logger, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mid.Chain(met.Handler(), mid.Recover(log), mid.Logger(log), mid.OTel("splitcore-indexer")))
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			log.Error("indexer: metrics server failed", "error", err)
		}
	}()
}

func openMetastore(kind, root, dsn string, log *slog.Logger) (metastore.Metastore, error) {
	switch kind {
	case "file":
		expanded, err := config.ExpandEnv(root)
		if err != nil {
			return nil, err
		}
		return filestore.New(expanded, log), nil
	case "postgres":
		expanded, err := config.ExpandEnv(dsn)
		if err != nil {
			return nil, err
		}
		if expanded == "" {
			return nil, fmt.Errorf("indexer: -metastore-dsn is required when -metastore=postgres")
		}
		return sqlstore.Open(expanded)
	default:
		return nil, fmt.Errorf("indexer: unknown -metastore kind %q (want file or postgres)", kind)
	}
}
