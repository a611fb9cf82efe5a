// Package metrics holds the prometheus collectors shared by the storage, media and ingest packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const namespace = "memories"

var (
	// TransfersTotal counts object storage transfers by source (blob, url) and result.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Object storage transfers by source and result",
	}, []string{"source", "result"})

	TransferBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfer_bytes_total",
		Help:      "Bytes written to object storage",
	})

	TransferDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transfer_duration_seconds",
		Help:      "Duration of a single transfer including remote fetch",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"source"})

	// CommitsTotal counts per-item record inserts issued by the ingestion commit stage.
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commits_total",
		Help:      "Media item commits by result",
	}, []string{"result"})

	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_batches_total",
		Help:      "Ingestion batches by final outcome",
	}, []string{"outcome"})

	StorageDeleteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_delete_failures_total",
		Help:      "Blob deletions that failed while the record was still removed",
	})

	CommentEnrichmentFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "comment_enrichment_failures_total",
		Help:      "Listings served with empty comments because the comment query failed",
	})

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_runs_total",
		Help:      "Orphan sweep runs",
	})

	SweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_deleted_total",
		Help:      "Unreferenced blobs removed by the orphan sweep",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ingest_sessions_active",
		Help:      "Ingestion batches currently held by the server",
	})
)

func Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}
