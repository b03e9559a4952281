package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Read results.
const (
	ResultFound = "found"
	ResultEmpty = "empty"
	ResultError = "error"
)

var (
	// documentReadsTotal counts executor reads.
	// Labels: op (fetchOne, fetchMany, ...), collection, result (found, empty, error)
	documentReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docops_document_reads_total",
			Help: "Total document reads by outcome.",
		},
		[]string{"op", "collection", "result"},
	)

	documentReadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docops_document_read_duration_seconds",
			Help:    "Document read latency in seconds, validation included.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op", "collection"},
	)

	// documentRejectedTotal counts stored documents that failed validation.
	documentRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docops_documents_rejected_total",
			Help: "Stored documents rejected by their collection schema.",
		},
		[]string{"collection"},
	)

	documentWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docops_document_writes_total",
			Help: "Total document writes by outcome.",
		},
		[]string{"op", "collection", "result"},
	)
)

// RecordDocumentRead records one executor read.
func RecordDocumentRead(op, collection, result string, duration time.Duration) {
	documentReadsTotal.WithLabelValues(op, collection, result).Inc()
	documentReadDuration.WithLabelValues(op, collection).Observe(duration.Seconds())
}

// RecordDocumentRejected counts a stored document that failed validation.
func RecordDocumentRejected(collection string) {
	documentRejectedTotal.WithLabelValues(collection).Inc()
}

// RecordDocumentWrite records one write; a nil err counts as ok.
func RecordDocumentWrite(op, collection string, err error) {
	result := "ok"
	if err != nil {
		result = ResultError
	}
	documentWritesTotal.WithLabelValues(op, collection, result).Inc()
}
