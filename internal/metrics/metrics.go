package metrics

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// flushBucketsMillis are the upper bounds of the flush latency histogram.
var flushBucketsMillis = [...]int64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var flushBucketLabels = [...]string{"0.01", "0.05", "0.1", "0.25", "0.5", "1", "2.5", "5", "10", "+Inf"}

// Metrics holds the loader's counters for the status server
type Metrics struct {
	startTime time.Time

	// Input
	rowsRead     atomic.Int64
	rowsRejected atomic.Int64
	inputBytes   atomic.Int64

	// Writer buffer
	rowsBuffered  atomic.Int64
	bytesBuffered atomic.Int64
	rowsWritten   atomic.Int64

	// Flushes
	flushesTotal      atomic.Int64
	flushErrorsTotal  atomic.Int64
	flushLatencySum   atomic.Int64 // microseconds
	flushLatencyCount atomic.Int64
	flushBuckets      [len(flushBucketLabels)]atomic.Int64

	// Generations
	generationsWritten  atomic.Int64
	partitionsWritten   atomic.Int64
	dataBytesRaw        atomic.Int64
	dataBytesCompressed atomic.Int64
	componentBytes      atomic.Int64

	// Mirror uploads
	uploadsTotal      atomic.Int64
	uploadErrorsTotal atomic.Int64
	uploadBytesTotal  atomic.Int64

	// Status server
	httpRequestsTotal atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New returns an unshared instance, used by tests.
func New() *Metrics {
	return &Metrics{startTime: time.Now(), logger: zerolog.Nop()}
}

// Init initializes the metrics with a logger
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Debug().Msg("Metrics collector initialized")
	return m
}

// Input Metrics
func (m *Metrics) IncRowsRead()              { m.rowsRead.Add(1) }
func (m *Metrics) IncRowsRejected()          { m.rowsRejected.Add(1) }
func (m *Metrics) SetInputBytes(bytes int64) { m.inputBytes.Store(bytes) }
func (m *Metrics) RowsRead() int64           { return m.rowsRead.Load() }

// Buffer Metrics
func (m *Metrics) SetBuffered(rows, bytes int64) {
	m.rowsBuffered.Store(rows)
	m.bytesBuffered.Store(bytes)
}
func (m *Metrics) IncRowsWritten(count int64) { m.rowsWritten.Add(count) }

// RecordFlush records one generation flush and its latency.
func (m *Metrics) RecordFlush(d time.Duration, err error) {
	m.flushesTotal.Add(1)
	if err != nil {
		m.flushErrorsTotal.Add(1)
	}
	m.flushLatencySum.Add(d.Microseconds())
	m.flushLatencyCount.Add(1)
	m.flushBuckets[flushBucket(d.Milliseconds())].Add(1)
}

func flushBucket(millis int64) int {
	for i, bound := range flushBucketsMillis {
		if millis <= bound {
			return i
		}
	}
	return len(flushBucketsMillis)
}

// RecordGeneration records a completed generation.
func (m *Metrics) RecordGeneration(partitions, rawBytes, compressedBytes, totalBytes int64) {
	m.generationsWritten.Add(1)
	m.partitionsWritten.Add(partitions)
	m.dataBytesRaw.Add(rawBytes)
	m.dataBytesCompressed.Add(compressedBytes)
	m.componentBytes.Add(totalBytes)
}

// Upload Metrics
func (m *Metrics) IncUploads(bytes int64) {
	m.uploadsTotal.Add(1)
	m.uploadBytesTotal.Add(bytes)
}
func (m *Metrics) IncUploadErrors()   { m.uploadErrorsTotal.Add(1) }
func (m *Metrics) IncHTTPRequests()   { m.httpRequestsTotal.Add(1) }
func (m *Metrics) Generations() int64 { return m.generationsWritten.Load() }

// Snapshot returns all metrics as a map (for JSON endpoint)
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"uptime_seconds":     time.Since(m.startTime).Seconds(),
		"goroutines":         runtime.NumGoroutine(),
		"memory_alloc_bytes": memStats.Alloc,
		"memory_sys_bytes":   memStats.Sys,
		"gc_cycles":          memStats.NumGC,

		"rows_read_total":     m.rowsRead.Load(),
		"rows_rejected_total": m.rowsRejected.Load(),
		"input_bytes":         m.inputBytes.Load(),

		"rows_buffered":        m.rowsBuffered.Load(),
		"bytes_buffered":       m.bytesBuffered.Load(),
		"rows_written_total":   m.rowsWritten.Load(),
		"flushes_total":        m.flushesTotal.Load(),
		"flush_errors_total":   m.flushErrorsTotal.Load(),
		"flush_latency_sum_us": m.flushLatencySum.Load(),
		"flush_latency_count":  m.flushLatencyCount.Load(),

		"generations_written_total":   m.generationsWritten.Load(),
		"partitions_written_total":    m.partitionsWritten.Load(),
		"data_bytes_raw_total":        m.dataBytesRaw.Load(),
		"data_bytes_compressed_total": m.dataBytesCompressed.Load(),
		"component_bytes_total":       m.componentBytes.Load(),

		"uploads_total":       m.uploadsTotal.Load(),
		"upload_errors_total": m.uploadErrorsTotal.Load(),
		"upload_bytes_total":  m.uploadBytesTotal.Load(),

		"http_requests_total": m.httpRequestsTotal.Load(),
	}
}

// PrometheusFormat returns metrics in Prometheus text exposition format
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var b []byte
	b = appendFamily(b, "bulkloader_uptime_seconds", "gauge", "Time since the load started", time.Since(m.startTime).Seconds())
	b = appendFamily(b, "bulkloader_goroutines", "gauge", "Number of goroutines", float64(runtime.NumGoroutine()))
	b = appendFamily(b, "bulkloader_memory_alloc_bytes", "gauge", "Current allocated memory", float64(memStats.Alloc))

	b = appendFamily(b, "bulkloader_rows_read_total", "counter", "Input rows read", float64(m.rowsRead.Load()))
	b = appendFamily(b, "bulkloader_rows_rejected_total", "counter", "Input rows rejected", float64(m.rowsRejected.Load()))
	b = appendFamily(b, "bulkloader_rows_buffered", "gauge", "Rows waiting for the next flush", float64(m.rowsBuffered.Load()))
	b = appendFamily(b, "bulkloader_bytes_buffered", "gauge", "Estimated encoded bytes waiting for the next flush", float64(m.bytesBuffered.Load()))
	b = appendFamily(b, "bulkloader_rows_written_total", "counter", "Rows written into generations", float64(m.rowsWritten.Load()))
	b = appendFamily(b, "bulkloader_flushes_total", "counter", "Generation flushes attempted", float64(m.flushesTotal.Load()))
	b = appendFamily(b, "bulkloader_flush_errors_total", "counter", "Generation flushes that failed", float64(m.flushErrorsTotal.Load()))

	b = append(b, "# HELP bulkloader_flush_duration_seconds Generation flush latency\n"...)
	b = append(b, "# TYPE bulkloader_flush_duration_seconds histogram\n"...)
	var cumulative int64
	for i, label := range flushBucketLabels {
		cumulative += m.flushBuckets[i].Load()
		b = appendMetricWithLabel(b, "bulkloader_flush_duration_seconds_bucket", "le", label, float64(cumulative))
	}
	b = appendMetric(b, "bulkloader_flush_duration_seconds_sum", float64(m.flushLatencySum.Load())/1e6)
	b = appendMetric(b, "bulkloader_flush_duration_seconds_count", float64(m.flushLatencyCount.Load()))

	b = appendFamily(b, "bulkloader_generations_written_total", "counter", "Generations completed", float64(m.generationsWritten.Load()))
	b = appendFamily(b, "bulkloader_partitions_written_total", "counter", "Partitions written", float64(m.partitionsWritten.Load()))
	b = appendFamily(b, "bulkloader_data_bytes_raw_total", "counter", "Uncompressed Data.db bytes", float64(m.dataBytesRaw.Load()))
	b = appendFamily(b, "bulkloader_data_bytes_compressed_total", "counter", "Data.db bytes on disk", float64(m.dataBytesCompressed.Load()))
	b = appendFamily(b, "bulkloader_component_bytes_total", "counter", "Bytes written across all components", float64(m.componentBytes.Load()))

	b = appendFamily(b, "bulkloader_uploads_total", "counter", "Components mirrored to the upload backend", float64(m.uploadsTotal.Load()))
	b = appendFamily(b, "bulkloader_upload_errors_total", "counter", "Failed mirror uploads", float64(m.uploadErrorsTotal.Load()))
	b = appendFamily(b, "bulkloader_upload_bytes_total", "counter", "Bytes mirrored to the upload backend", float64(m.uploadBytesTotal.Load()))

	b = appendFamily(b, "bulkloader_http_requests_total", "counter", "Status server requests", float64(m.httpRequestsTotal.Load()))

	return string(b)
}

// Helper functions for Prometheus format
func appendFamily(b []byte, name, kind, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, "\n# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, kind...)
	b = append(b, '\n')
	return appendMetric(b, name, value)
}

func appendMetric(b []byte, name string, value float64) []byte {
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	b = append(b, '\n')
	return b
}

func appendMetricWithLabel(b []byte, name, labelName, labelValue string, value float64) []byte {
	b = append(b, name...)
	b = append(b, '{')
	b = append(b, labelName...)
	b = append(b, '=', '"')
	b = append(b, labelValue...)
	b = append(b, '"', '}', ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	b = append(b, '\n')
	return b
}
