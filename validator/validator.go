// Package validator receives result batches from the executor and checks a
// random sample of them against a local recomputation.
package validator

import (
	"bufio"
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	stage "github.com/Ethan-cw/HighPerformanceComputing"
	"github.com/Ethan-cw/HighPerformanceComputing/kernel"
	"github.com/Ethan-cw/HighPerformanceComputing/wire"
)

const Name = "validator"

type Config struct {
	ListenAddr  string
	MonitorAddr string

	// SampleRate is the probability of sampling any one record.
	SampleRate float64
	// SampleLimit caps the samples taken per report interval.
	SampleLimit int
	// Rand defaults to the shared math/rand/v2 source.
	Rand *rand.Rand

	ReportInterval time.Duration
}

var _ stage.Role = &Validator{}

type Validator struct {
	cfg      Config
	settings stage.Settings

	listener net.Listener
	inbound  net.Conn
	reporter *stage.Reporter

	sampler *Sampler
	total   stage.Counter
	correct stage.Counter
	wrong   stage.Counter
}

func New(cfg Config, opts ...stage.Option) *Validator {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = DefaultSampleLimit
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = stage.DefaultReportInterval
	}
	return &Validator{
		cfg:      cfg,
		settings: stage.NewSettings(Name, opts...),
		sampler:  NewSampler(cfg.SampleRate, cfg.SampleLimit, cfg.Rand),
	}
}

func (v *Validator) Name() string {
	return Name
}

func (v *Validator) Init() error {
	l, err := net.Listen("tcp", v.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", v.cfg.ListenAddr, err)
	}
	v.listener = l
	v.settings.Logger.Info(stage.LogListening, "addr", l.Addr().String())

	reporter, err := stage.DialReporter(stage.TagValidator, v.cfg.MonitorAddr)
	if err != nil {
		return err
	}
	v.reporter = reporter
	return nil
}

// Addr is the bound listen address. Valid after Init.
func (v *Validator) Addr() net.Addr {
	return v.listener.Addr()
}

func (v *Validator) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(stage.CloseOnDone(ctx, v.listener, v.reporter))
	eg.Go(func() error {
		stage.Every(ctx, v.cfg.ReportInterval, v.ReportStatus)
		return nil
	})
	eg.Go(func() error {
		return v.receive(ctx)
	})

	return eg.Wait()
}

func (v *Validator) Close() error {
	return stage.CloseAll(v.listener, v.inbound, v.reporter)
}

func (v *Validator) receive(ctx context.Context) error {
	conn, err := v.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}
	v.inbound = conn
	v.settings.Logger.Info(stage.LogAccepted, "remote", conn.RemoteAddr().String())

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	r := bufio.NewReaderSize(conn, wire.ResultBatchBytes)
	buf := make([]byte, wire.ResultBatchBytes)
	for {
		if err := wire.ReadBatch(r, buf); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			v.settings.Logger.With("error", err).Error(stage.LogFramingError)
			return err
		}
		if err := v.Check(ctx, buf); err != nil {
			return err
		}
	}
}

// Check accounts for one encoded result batch and verifies the records the
// sampler picks. A mismatch is counted, never returned.
func (v *Validator) Check(ctx context.Context, encoded []byte) error {
	if len(encoded)%wire.ResultSize != 0 {
		return wire.ErrTruncated
	}
	n := int64(len(encoded) / wire.ResultSize)
	v.total.Add(n)
	v.settings.Metrics.RecordTasks(ctx, stage.TasksValidated, n)

	for off := 0; off < len(encoded); off += wire.ResultSize {
		if !v.sampler.Take() {
			continue
		}
		r, _ := wire.ReadResult(encoded[off:])
		v.verify(ctx, r)
	}
	return nil
}

func (v *Validator) verify(ctx context.Context, r wire.Result) {
	expected, ok := kernel.Verify(r)
	v.settings.Metrics.RecordSample(ctx, ok)

	logger := v.settings.Logger.With(
		"id", r.ID,
		"x", r.X,
		"y", r.Y,
		"digest", kernel.Hex(r.Digest),
		"expected", expected,
	)
	if !ok {
		v.wrong.Add(1)
		logger.Warn(stage.LogSampleMismatch)
		return
	}
	v.correct.Add(1)
	logger.Debug(stage.LogSampleMatch)
}

// ReportStatus sends the interval's totals and sample outcomes, then starts
// a new interval.
func (v *Validator) ReportStatus() {
	total := v.total.ReadAndReset()
	correct := v.correct.ReadAndReset()
	wrong := v.wrong.ReadAndReset()
	sampled := v.sampler.Reset()

	msg := fmt.Sprintf("%s total tasks: %d, after sampling %d tasks are correct while %d are wrong",
		time.Now().Format(time.UnixDate), total, correct, wrong)
	if err := v.reporter.Send(msg); err != nil {
		v.settings.Logger.With("error", err).Error(stage.LogReportError)
		v.settings.Metrics.RecordSendError(context.Background(), "udp")
		return
	}
	v.settings.Logger.Info(stage.LogStatusReported,
		"tasks", total,
		"sampled", sampled,
		"correct", correct,
		"wrong", wrong,
	)
}

// Stats is a point-in-time view of the current interval.
type Stats struct {
	Total   int64
	Sampled int64
	Correct int64
	Wrong   int64
}

func (v *Validator) Stats() Stats {
	return Stats{
		Total:   v.total.Load(),
		Sampled: v.sampler.Taken(),
		Correct: v.correct.Load(),
		Wrong:   v.wrong.Load(),
	}
}
