// Command gc runs internal/gc's two-sweep reclaimer across every index the
// metastore knows about, either once (-once) or on a fixed interval, one
// goroutine per index (spec.md §4.8, §5.9).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/wessley-search/splitcore/internal/config"
	"github.com/wessley-search/splitcore/internal/gc"
	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/metastore/filestore"
	"github.com/wessley-search/splitcore/internal/metastore/sqlstore"
	"github.com/wessley-search/splitcore/internal/storage"
	"github.com/wessley-search/splitcore/pkg/metrics"
	"github.com/wessley-search/splitcore/pkg/mid"
)

var met = metrics.New()

func main() {
	var (
		metastoreKind = flag.String("metastore", "file", "metastore backend: file or postgres")
		metastoreRoot = flag.String("metastore-dir", "${SPLITCORE_METASTORE_DIR:-/tmp/splitcore-metastore}", "filestore root directory (metastore=file)")
		metastoreDSN  = flag.String("metastore-dsn", "${SPLITCORE_METASTORE_DSN:-}", "database/sql DSN (metastore=postgres)")
		stagedGrace   = flag.Duration("staged-grace", 1*time.Hour, "how long a split may sit Staged before it's assumed abandoned")
		deletionGrace = flag.Duration("deletion-grace", 24*time.Hour, "how long a split may sit MarkedForDeletion before reclaim")
		interval      = flag.Duration("interval", 10*time.Minute, "sweep interval (ignored with -once)")
		once          = flag.Bool("once", false, "sweep every index a single time and exit")
		dryRun        = flag.Bool("dry-run", false, "log what would be reclaimed without mutating anything")
		metricsPort   = flag.Int("metrics-port", 9093, "port to serve /metrics on")
	)
	flag.Parse()

	log := slog.Default()
	serveMetrics(log, *metricsPort)

	ms, err := openMetastore(*metastoreKind, *metastoreRoot, *metastoreDSN)
	if err != nil {
		log.Error("gc: open metastore failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	indexes, err := ms.ListIndexesMetadatas(ctx)
	if err != nil {
		log.Error("gc: list indexes failed", "error", err)
		os.Exit(1)
	}
	if len(indexes) == 0 {
		log.Info("gc: no indexes to sweep")
		return
	}

	var wg sync.WaitGroup
	for _, meta := range indexes {
		st, err := storage.Open(ctx, meta.IndexRootURI)
		if err != nil {
			log.Error("gc: open storage failed", "index_id", meta.IndexID, "index_root_uri", meta.IndexRootURI, "error", err)
			continue
		}
		collector := gc.New(meta.IndexID, ms, st, *stagedGrace, *deletionGrace, *dryRun, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if *once {
				if err := collector.SweepOnce(ctx); err != nil {
					log.Error("gc: sweep failed", "index_id", collector.IndexID, "error", err)
				}
				return
			}
			if err := collector.Run(ctx, *interval); err != nil && ctx.Err() == nil {
				log.Error("gc: run failed", "index_id", collector.IndexID, "error", err)
			}
		}()
	}
	wg.Wait()
	log.Info("gc: done")
}

func serveMetrics(log *slog.Logger, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mid.Chain(met.Handler(), mid.Recover(log), mid.Logger(log), mid.OTel("splitcore-gc")))
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			log.Error("gc: metrics server failed", "error", err)
		}
	}()
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
			return nil, fmt.Errorf("gc: -metastore-dsn is required when -metastore=postgres")
		}
		return sqlstore.Open(expanded)
	default:
		return nil, fmt.Errorf("gc: unknown -metastore kind %q (want file or postgres)", kind)
	}
}
