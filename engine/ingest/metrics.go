package ingest

import "github.com/WessleyAI/catalog-vectors/pkg/metrics"

type loaderMetrics struct {
	recordsLoaded  *metrics.Counter
	recordsSkipped *metrics.Counter
	batches        *metrics.Counter
	batchFailures  func(reason string) *metrics.Counter
	batchSize      *metrics.Histogram
	embedDur       *metrics.Histogram
	loadDur        *metrics.Histogram
	inflight       *metrics.Gauge
}

func newLoaderMetrics(met *metrics.Registry) loaderMetrics {
	if met == nil {
		met = metrics.New()
	}
	return loaderMetrics{
		recordsLoaded:  met.Counter("catalog_loader_records_loaded_total", "Records accepted by the document index"),
		recordsSkipped: met.Counter("catalog_loader_records_skipped_total", "Records dropped for empty text or failed embedding"),
		batches:        met.Counter("catalog_loader_batches_total", "Batches submitted"),
		batchFailures: func(reason string) *metrics.Counter {
			return met.Counter(metrics.WithLabels("catalog_loader_batch_failures_total", "reason", reason), "Batches that failed")
		},
		batchSize: met.Histogram("catalog_loader_batch_records", "Records per submitted batch", metrics.SizeBuckets),
		embedDur:  met.Histogram("catalog_loader_embed_duration_seconds", "Per-record embedding time", nil),
		loadDur:   met.Histogram("catalog_loader_load_duration_seconds", "Per-batch index load time", nil),
		inflight:  met.Gauge("catalog_loader_embeddings_inflight", "Embedding calls in progress"),
	}
}
