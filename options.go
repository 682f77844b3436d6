package stage

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNotRunning     = errors.New("role not running")
	ErrUnableToStart  = errors.New("unable to start")
	ErrMultipleStart  = errors.New("multiple start")
	ErrMultipleStop   = errors.New("multiple stop")
	ErrInvalidTransition = errors.New("invalid state transition")
)

type config struct {
	label         *string
	logger        *slog.Logger
	meterProvider metric.MeterProvider
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithLabel(label string) Option {
	return func(c *config) {
		c.label = &label
	}
}

// WithMeterProvider enables metrics. Without it no instruments are created.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = mp
	}
}

// Settings are the resolved ambient dependencies of one role.
type Settings struct {
	Label   string
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewSettings applies opts on top of the defaults for a role named label.
func NewSettings(label string, opts ...Option) Settings {
	var config config
	for _, opt := range opts {
		opt(&config)
	}

	if config.label != nil {
		label = *config.label
	}

	logger := slog.Default()
	if config.logger != nil {
		logger = config.logger
	}
	logger = logger.With("label", label)

	var metrics *Metrics
	if config.meterProvider != nil {
		if m, err := newMetrics(config.meterProvider, label); err != nil {
			logger.With("error", err).Warn(logMetricsInitFailed)
		} else {
			metrics = m
		}
	}

	return Settings{
		Label:   label,
		Logger:  logger,
		Metrics: metrics,
	}
}
