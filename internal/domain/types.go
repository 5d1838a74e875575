// Package domain holds the data model shared by every stage of the
// pipeline: ingest events, finalized metrics, candidate and persisted
// alerts.
package domain

import "time"

// MaxServiceLen bounds the service key length.
const MaxServiceLen = 255

// LogLevel is the severity of an ingested log line.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// SpanStatus is the terminal status of a span.
type SpanStatus string

const (
	SpanOK    SpanStatus = "ok"
	SpanError SpanStatus = "error"
	SpanUnset SpanStatus = "unset"
)

// LogEvent is an inbound log line.
type LogEvent struct {
	Timestamp time.Time
	Level     LogLevel
	Service   string
	Message   string
	Metadata  map[string]string
	TraceID   string
	SpanID    string
}

// SpanEndEvent is an inbound completed span.
type SpanEndEvent struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Service      string
	Name         string
	Kind         string
	StartTime    time.Time
	EndTime      time.Time
	DurationMs   float64
	Status       SpanStatus
	Attributes   map[string]string
}

// MetricKind enumerates the finalized metric kinds a bucket close
// produces.
type MetricKind string

const (
	MetricErrorCount   MetricKind = "error_count"
	MetricLogCount     MetricKind = "log_count"
	MetricLatencyP95   MetricKind = "latency_p95"
	MetricRequestCount MetricKind = "request_count"
	MetricThroughput   MetricKind = "throughput"
)

// Metric is the finalized, immutable output of a closed bucket.
type Metric struct {
	Service     string
	Kind        MetricKind
	Value       float64
	WindowStart time.Time
	WindowEnd   time.Time
}

// AlertType enumerates the alert kinds the detector can raise.
type AlertType string

const (
	AlertErrorSpike        AlertType = "error_spike"
	AlertHighLatency       AlertType = "high_latency"
	AlertServiceDown       AlertType = "service_down"
	AlertThresholdExceeded AlertType = "threshold_exceeded"
)

// Severity is the alert severity ladder.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Stats is a snapshot of the statistics that produced a candidate alert,
// carried along for the alert message and for debugging.
type Stats struct {
	Value      float64
	Mean       float64
	StdDev     float64
	ZScore     float64
	RecentMean float64
	Ratio      float64
	Count      int
}

// CandidateAlert is an ephemeral, pre-deduplication alert.
type CandidateAlert struct {
	Service           string
	AlertType         AlertType
	Severity          Severity
	Message           string
	BucketWindowStart time.Time
	Stats             Stats
}

// PersistedAlert is a CandidateAlert plus the fields the repository
// assigns on insert.
type PersistedAlert struct {
	ID         string
	Candidate  CandidateAlert
	CreatedAt  time.Time
	Resolved   bool
	ResolvedAt *time.Time
	AlertSent  bool
}
