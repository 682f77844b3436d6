package stage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsTasks         = "taskpipe_tasks_total"
	metricsBatchDropped  = "taskpipe_batches_dropped_total"
	metricsSamples       = "taskpipe_samples_total"
	metricsSendErrors    = "taskpipe_send_errors_total"
	metricsBatchDuration = "taskpipe_batch_duration_microseconds"
)

// Task stages recorded by RecordTasks.
const (
	TasksGenerated = "generated"
	TasksCompleted = "completed"
	TasksValidated = "validated"
)

// Metrics records role instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	tasks         metric.Int64Counter
	batchDropped  metric.Int64Counter
	samples       metric.Int64Counter
	sendErrors    metric.Int64Counter
	batchDuration metric.Int64Histogram
}

func newMetrics(mp metric.MeterProvider, label string) (*Metrics, error) {
	meter := mp.Meter("taskpipe", metric.WithInstrumentationAttributes(
		attribute.String("label", label),
	))

	tasks, err := meter.Int64Counter(
		metricsTasks,
		metric.WithDescription("Total number of tasks passed through a pipeline stage"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	batchDropped, err := meter.Int64Counter(
		metricsBatchDropped,
		metric.WithDescription("Total number of batches discarded by the worker queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	samples, err := meter.Int64Counter(
		metricsSamples,
		metric.WithDescription("Total number of sampled results verified"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	sendErrors, err := meter.Int64Counter(
		metricsSendErrors,
		metric.WithDescription("Total number of failed batch or report sends"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	batchDuration, err := meter.Int64Histogram(
		metricsBatchDuration,
		metric.WithDescription("Time taken to compute one batch"),
		metric.WithUnit("μs"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		tasks:         tasks,
		batchDropped:  batchDropped,
		samples:       samples,
		sendErrors:    sendErrors,
		batchDuration: batchDuration,
	}, nil
}

func (m *Metrics) RecordTasks(ctx context.Context, stage string, n int64) {
	if m == nil {
		return
	}

	m.tasks.Add(ctx, n, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) RecordBatchDropped(ctx context.Context) {
	if m == nil {
		return
	}

	m.batchDropped.Add(ctx, 1)
}

func (m *Metrics) RecordSample(ctx context.Context, correct bool) {
	if m == nil {
		return
	}

	result := "correct"
	if !correct {
		result = "incorrect"
	}
	m.samples.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordSendError(ctx context.Context, channel string) {
	if m == nil {
		return
	}

	m.sendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

func (m *Metrics) RecordBatchDuration(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}

	m.batchDuration.Record(ctx, duration.Microseconds())
}
