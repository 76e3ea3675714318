// Package tracking records OpenTelemetry metrics for fetch attempts, backoff waits
// and whole fetch operations. Instruments come from the global meter provider.
package tracking

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "condfetch/httpclient"

	metricAttempts     = "http.client.fetch.attempts" // Counter
	metricFetchSeconds = "http.client.fetch.duration" // Histogram in seconds
	metricBackoffWait  = "http.client.backoff.wait"   // Histogram in seconds

	attrOutcome = "outcome"
	attrHost    = "server.address"
)

// Attempt outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Fetch outcomes
const (
	FetchOK          = "ok"
	FetchNotModified = "not_modified"
	FetchFailed      = "failed"
)

var (
	meterOnce sync.Once
	meterMu   sync.Mutex

	attemptCounter metric.Int64Counter
	fetchDuration  metric.Float64Histogram
	backoffWait    metric.Float64Histogram
)

func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize httpclient metric %s: %v\n", metricName, err)
	}
}

func initMeter() {
	meterMu.Lock()
	defer meterMu.Unlock()

	meter := otel.Meter(meterName)

	var err error
	attemptCounter, err = meter.Int64Counter(
		metricAttempts,
		metric.WithDescription("Number of fetch attempts made by the backoff executor"),
		metric.WithUnit("{attempt}"),
	)
	logMetricError(metricAttempts, err)

	fetchDuration, err = meter.Float64Histogram(
		metricFetchSeconds,
		metric.WithDescription("Duration of a fetch including retries and backoff waits"),
		metric.WithUnit("s"),
	)
	logMetricError(metricFetchSeconds, err)

	backoffWait, err = meter.Float64Histogram(
		metricBackoffWait,
		metric.WithDescription("Backoff delay requested between failed attempts"),
		metric.WithUnit("s"),
	)
	logMetricError(metricBackoffWait, err)
}

func ensureInitialized() {
	meterOnce.Do(initMeter)
}

// RecordAttempt counts one invocation of a retried operation.
func RecordAttempt(ctx context.Context, outcome string) {
	ensureInitialized()
	if attemptCounter == nil {
		return
	}
	attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordBackoffWait records a requested inter-attempt delay.
func RecordBackoffWait(ctx context.Context, d time.Duration) {
	ensureInitialized()
	if backoffWait == nil {
		return
	}
	backoffWait.Record(ctx, d.Seconds())
}

// RecordFetch records the duration and outcome of a complete fetch.
func RecordFetch(ctx context.Context, host, outcome string, d time.Duration) {
	ensureInitialized()
	if fetchDuration == nil {
		return
	}
	fetchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(attrOutcome, outcome),
		attribute.String(attrHost, host),
	))
}

// ResetForTesting drops cached instruments so the next record call binds to the
// current global meter provider.
func ResetForTesting() {
	meterMu.Lock()
	defer meterMu.Unlock()

	meterOnce = sync.Once{}
	attemptCounter = nil
	fetchDuration = nil
	backoffWait = nil
}
