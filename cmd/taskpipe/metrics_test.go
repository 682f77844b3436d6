package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stage "github.com/Ethan-cw/HighPerformanceComputing"
	"github.com/Ethan-cw/HighPerformanceComputing/config"
)

func TestNewMeterProvider_Stdout(t *testing.T) {
	var cfg config.Config
	cfg.Metrics.Exporter = config.MetricsExporterStdout
	cfg.Metrics.Interval = time.Hour

	var out bytes.Buffer
	mp, shutdown, err := newMeterProvider(&cfg, &out)
	require.NoError(t, err)
	require.NotNil(t, mp)

	settings := stage.NewSettings("executor", stage.WithMeterProvider(mp))
	require.NotNil(t, settings.Metrics)
	settings.Metrics.RecordTasks(context.Background(), stage.TasksCompleted, 2048)
	settings.Metrics.RecordBatchDropped(context.Background())

	// Nothing is exported before the interval elapses or the provider shuts down.
	assert.Zero(t, out.Len())
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, out.String(), "taskpipe_tasks_total")
	assert.Contains(t, out.String(), "taskpipe_batches_dropped_total")
	assert.Contains(t, out.String(), `"completed"`)
}

func TestNewMeterProvider_None(t *testing.T) {
	var cfg config.Config
	cfg.Metrics.Exporter = config.MetricsExporterNone

	var out bytes.Buffer
	mp, shutdown, err := newMeterProvider(&cfg, &out)
	require.NoError(t, err)
	assert.Nil(t, mp)
	assert.NoError(t, shutdown(context.Background()))

	settings := stage.NewSettings("executor", stage.WithMeterProvider(mp))
	assert.Nil(t, settings.Metrics)
	assert.Zero(t, out.Len())
}
