package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for an archive write or read.
type Metrics struct {
	ChunksWrittenTotal    prometheus.Counter
	ChunksReadTotal       prometheus.Counter
	ChunkSubmitRetries    *prometheus.CounterVec
	BytesWrittenTotal     prometheus.Counter
	BytesReadTotal        prometheus.Counter
	ResyncsTotal          *prometheus.CounterVec

	FECReconstructionsTotal        prometheus.Counter
	FECReconstructionFailuresTotal prometheus.Counter
	FECParityShardsWrittenTotal    prometheus.Counter

	CryptoOperationsTotal    *prometheus.CounterVec
	CryptoOperationDuration  prometheus.Histogram
	MerkleVerificationsTotal *prometheus.CounterVec

	ChunkGCSweepDuration    prometheus.Histogram
	ChunksCollectedTotal    prometheus.Counter
	DatabaseOperationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksWrittenTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archivestream_chunks_written_total",
				Help: "Total chunks submitted to a sink",
			},
		),

		ChunksReadTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archivestream_chunks_read_total",
				Help: "Total chunks fetched back out of a sink",
			},
		),

		ChunkSubmitRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivestream_chunk_submit_retries_total",
				Help: "Chunks that succeeded after a retry or exhausted their attempts",
			},
			[]string{"outcome"},
		),

		BytesWrittenTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archivestream_bytes_written_total",
				Help: "Total plaintext bytes written to an archive",
			},
		),

		BytesReadTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archivestream_bytes_read_total",
				Help: "Total plaintext bytes read back from an archive",
			},
		),

		ResyncsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivestream_resyncs_total",
				Help: "Times the robust unpacker entered Resyncing",
			},
			[]string{"reason"},
		),

		FECReconstructionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archivestream_fec_reconstructions_total",
				Help: "Chunk groups reconstructed via parity",
			},
		),

		FECReconstructionFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archivestream_fec_reconstruction_failures_total",
				Help: "Failed parity reconstructions",
			},
		),

		FECParityShardsWrittenTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archivestream_fec_parity_shards_written_total",
				Help: "Parity shards submitted to the sink",
			},
		),

		CryptoOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivestream_crypto_operations_total",
				Help: "Cryptographic operations performed",
			},
			[]string{"operation"},
		),

		CryptoOperationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archivestream_crypto_operation_duration_seconds",
				Help:    "Crypto operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		MerkleVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivestream_merkle_verifications_total",
				Help: "Merkle root verifications",
			},
			[]string{"result"},
		),

		ChunkGCSweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archivestream_chunk_gc_sweep_duration_seconds",
				Help:    "Chunk store GC sweep latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
			},
		),

		ChunksCollectedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archivestream_chunks_collected_total",
				Help: "Chunks removed by reference-counted GC",
			},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivestream_database_operations_total",
				Help: "Chunk store operation count",
			},
			[]string{"operation", "result"},
		),
	}
}

// RecordChunkWritten updates metrics for a chunk landing in the sink.
func (m *Metrics) RecordChunkWritten(bytes int) {
	m.ChunksWrittenTotal.Inc()
	m.BytesWrittenTotal.Add(float64(bytes))
}

// RecordChunkRead updates metrics for a chunk fetched back out.
func (m *Metrics) RecordChunkRead(bytes int) {
	m.ChunksReadTotal.Inc()
	m.BytesReadTotal.Add(float64(bytes))
}

// RecordChunkSubmitRetry counts one chunk submission's outcome: succeeded
// after at least one retry, or exhausted every attempt.
func (m *Metrics) RecordChunkSubmitRetry(succeeded bool) {
	outcome := "succeeded"
	if !succeeded {
		outcome = "exhausted"
	}
	m.ChunkSubmitRetries.WithLabelValues(outcome).Inc()
}

// RecordResync increments the resync counter for reason.
func (m *Metrics) RecordResync(reason string) {
	m.ResyncsTotal.WithLabelValues(reason).Inc()
}

// RecordCryptoOperation records cryptographic operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.Observe(durationSeconds)
}

// RecordMerkleVerification increments Merkle verification counters.
func (m *Metrics) RecordMerkleVerification(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.MerkleVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordFECReconstruction updates parity reconstruction counters.
func (m *Metrics) RecordFECReconstruction(success bool) {
	if success {
		m.FECReconstructionsTotal.Inc()
	} else {
		m.FECReconstructionFailuresTotal.Inc()
	}
}

// RecordChunkGCSweep records one reference-counted GC sweep.
func (m *Metrics) RecordChunkGCSweep(durationSeconds float64, removed int) {
	m.ChunkGCSweepDuration.Observe(durationSeconds)
	m.ChunksCollectedTotal.Add(float64(removed))
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
