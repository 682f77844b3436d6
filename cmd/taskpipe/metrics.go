package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Ethan-cw/HighPerformanceComputing/config"
)

type shutdownFunc func(context.Context) error

// newMeterProvider builds the provider every role records into. The stdout
// exporter writes one JSON document to w per metrics.interval. shutdown
// exports whatever was recorded since the last interval.
func newMeterProvider(cfg *config.Config, w io.Writer) (metric.MeterProvider, shutdownFunc, error) {
	if cfg.Metrics.Exporter == config.MetricsExporterNone {
		return nil, func(context.Context) error { return nil }, nil
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("create metrics exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.Metrics.Interval),
		)),
	)
	return mp, mp.Shutdown, nil
}
