// Package generator produces synthetic task batches at a fixed rate and
// streams them to the executor.
package generator

import (
	"bufio"
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	stage "github.com/Ethan-cw/HighPerformanceComputing"
	"github.com/Ethan-cw/HighPerformanceComputing/wire"
)

const Name = "generator"

// InputSource draws the x and y operands of one task.
type InputSource func() (x, y uint16)

// UniformInputs draws x and y independently and uniformly from [1, 65535].
func UniformInputs() (uint16, uint16) {
	return uint16(rand.IntN(65535) + 1), uint16(rand.IntN(65535) + 1)
}

type Config struct {
	ExecutorAddr string
	MonitorAddr  string

	// Rate is the number of tasks emitted per second.
	Rate int64

	// ReportInterval defaults to stage.DefaultReportInterval.
	ReportInterval time.Duration

	// Inputs defaults to UniformInputs.
	Inputs InputSource
}

var _ stage.Role = &Generator{}

type Generator struct {
	cfg      Config
	settings stage.Settings

	conn     net.Conn
	w        *bufio.Writer
	reporter *stage.Reporter

	buf    []byte
	nextID uint64
	credit int64

	generated stage.Counter
	intervals int
}

func New(cfg Config, opts ...stage.Option) *Generator {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = stage.DefaultReportInterval
	}
	if cfg.Inputs == nil {
		cfg.Inputs = UniformInputs
	}
	return &Generator{
		cfg:      cfg,
		settings: stage.NewSettings(Name, opts...),
		buf:      make([]byte, wire.TaskBatchBytes),
	}
}

func (g *Generator) Name() string {
	return Name
}

func (g *Generator) Init() error {
	if g.cfg.Rate < 0 {
		return fmt.Errorf("negative task rate %d", g.cfg.Rate)
	}

	conn, err := net.Dial("tcp", g.cfg.ExecutorAddr)
	if err != nil {
		return fmt.Errorf("dial executor %s: %w", g.cfg.ExecutorAddr, err)
	}
	g.conn = conn
	g.w = bufio.NewWriterSize(conn, wire.TaskBatchBytes)
	g.settings.Logger.Info(stage.LogConnected, "addr", g.cfg.ExecutorAddr)

	reporter, err := stage.DialReporter(stage.TagGenerator, g.cfg.MonitorAddr)
	if err != nil {
		return err
	}
	g.reporter = reporter
	return nil
}

func (g *Generator) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		stage.Every(ctx, g.cfg.ReportInterval, g.ReportStatus)
		return nil
	})
	eg.Go(func() error {
		return g.generate(ctx)
	})
	eg.Go(stage.CloseOnDone(ctx, g.conn, g.reporter))

	return eg.Wait()
}

func (g *Generator) Close() error {
	return stage.CloseAll(g.conn, g.reporter)
}

// generate ticks once immediately and then every second. A failed write to
// the executor stops the role: the stream may hold a partial batch, and any
// later batch would be misaligned on the executor side.
func (g *Generator) generate(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if _, err := g.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick grants one second worth of rate credit and emits every whole batch
// the credit covers. The remainder is carried over, so a partial batch is
// never sent. It returns the number of batches written, and stops at the
// first failed write.
func (g *Generator) Tick(ctx context.Context) (int, error) {
	g.credit += g.cfg.Rate

	sent := 0
	for g.credit >= wire.BatchSize && ctx.Err() == nil {
		g.credit -= wire.BatchSize
		if err := g.GenerateBatch(); err != nil {
			g.settings.Logger.With("error", err).Error(stage.LogSendError)
			g.settings.Metrics.RecordSendError(ctx, "tcp")
			return sent, fmt.Errorf("send tasks to executor: %w", err)
		}
		sent++
	}
	return sent, nil
}

// GenerateBatch fills, encodes and writes one whole batch.
func (g *Generator) GenerateBatch() error {
	for i := 0; i < wire.BatchSize; i++ {
		g.nextID++
		x, y := g.cfg.Inputs()
		_ = wire.PutTask(g.buf[i*wire.TaskSize:], wire.Task{ID: g.nextID, X: x, Y: y})
	}

	if _, err := g.w.Write(g.buf); err != nil {
		return err
	}
	if err := g.w.Flush(); err != nil {
		return err
	}

	g.generated.Add(wire.BatchSize)
	g.settings.Metrics.RecordTasks(context.Background(), stage.TasksGenerated, wire.BatchSize)
	return nil
}

// ReportStatus sends and clears the number of tasks generated since the
// previous report.
func (g *Generator) ReportStatus() {
	n := g.generated.ReadAndReset()
	g.intervals++

	if err := g.reporter.Send(fmt.Sprintf("%d tasks generated", n)); err != nil {
		g.settings.Logger.With("error", err).Error(stage.LogReportError)
		g.settings.Metrics.RecordSendError(context.Background(), "udp")
		return
	}
	g.settings.Logger.Info(stage.LogStatusReported, "interval", g.intervals, "tasks", n)
}

// LastID is the id of the most recently generated task.
func (g *Generator) LastID() uint64 {
	return g.nextID
}
