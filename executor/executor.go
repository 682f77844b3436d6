// Package executor receives task batches, computes them on a bounded worker
// pool and forwards the result batches to the validator.
//
// Receiving, computing and sending are independent stages: the receive loop
// hands whole batches to the worker pool, workers push finished batches
// onto a handoff queue, and a single send loop drains that queue onto the
// outbound connection.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	stage "github.com/Ethan-cw/HighPerformanceComputing"
	"github.com/Ethan-cw/HighPerformanceComputing/batch"
	"github.com/Ethan-cw/HighPerformanceComputing/wire"
	"github.com/Ethan-cw/HighPerformanceComputing/workerpool"
)

const Name = "executor"

const (
	DefaultQueueSize   = 10240
	DefaultHandoffSize = 1024
)

type Config struct {
	ListenAddr    string
	ValidatorAddr string
	MonitorAddr   string

	// Workers defaults to runtime.NumCPU()+1.
	Workers int
	// QueueSize bounds the batches waiting for a worker.
	QueueSize int
	// HandoffSize bounds the computed batches waiting for the sender.
	HandoffSize int
	// Policy chooses which batch is shed when the worker queue is full.
	Policy workerpool.Policy

	ReportInterval time.Duration
}

var _ stage.Role = &Executor{}

type Executor struct {
	cfg      Config
	settings stage.Settings

	listener net.Listener
	inbound  net.Conn
	outbound net.Conn
	reporter *stage.Reporter

	entries *batch.Pool
	workers *workerpool.Pool[*batch.Entry]
	handoff chan *batch.Entry

	completed stage.Counter
}

func New(cfg Config, opts ...stage.Option) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() + 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.HandoffSize <= 0 {
		cfg.HandoffSize = DefaultHandoffSize
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = stage.DefaultReportInterval
	}

	settings := stage.NewSettings(Name, opts...)

	e := &Executor{
		cfg:      cfg,
		settings: settings,
		entries:  batch.NewPool(cfg.Workers*32, cfg.Workers*8),
		handoff:  make(chan *batch.Entry, cfg.HandoffSize),
	}
	e.workers = workerpool.New(e.execute, e.release,
		workerpool.WithWorkers(cfg.Workers),
		workerpool.WithQueueSize(cfg.QueueSize),
		workerpool.WithPolicy(cfg.Policy),
		workerpool.WithLogger(settings.Logger),
	)
	return e
}

func (e *Executor) Name() string {
	return Name
}

func (e *Executor) Init() error {
	l, err := net.Listen("tcp", e.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", e.cfg.ListenAddr, err)
	}
	e.listener = l
	e.settings.Logger.Info(stage.LogListening, "addr", l.Addr().String())

	conn, err := net.Dial("tcp", e.cfg.ValidatorAddr)
	if err != nil {
		return fmt.Errorf("dial validator %s: %w", e.cfg.ValidatorAddr, err)
	}
	e.outbound = conn
	e.settings.Logger.Info(stage.LogConnected, "addr", e.cfg.ValidatorAddr)

	reporter, err := stage.DialReporter(stage.TagExecutor, e.cfg.MonitorAddr)
	if err != nil {
		return err
	}
	e.reporter = reporter
	return nil
}

// Addr is the bound listen address. Valid after Init.
func (e *Executor) Addr() net.Addr {
	return e.listener.Addr()
}

func (e *Executor) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(stage.CloseOnDone(ctx, e.listener, e.outbound, e.reporter))
	eg.Go(func() error {
		stage.Every(ctx, e.cfg.ReportInterval, e.ReportStatus)
		return nil
	})
	eg.Go(func() error {
		return e.sendLoop(ctx)
	})

	e.workers.Start(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		e.workers.Wait()
		return nil
	})
	eg.Go(func() error {
		return e.receive(ctx)
	})

	return eg.Wait()
}

func (e *Executor) Close() error {
	return stage.CloseAll(e.listener, e.inbound, e.outbound, e.reporter)
}

// receive accepts the generator's connection and feeds every batch read
// from it to the worker pool.
func (e *Executor) receive(ctx context.Context) error {
	conn, err := e.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}
	e.inbound = conn
	e.settings.Logger.Info(stage.LogAccepted, "remote", conn.RemoteAddr().String())

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	r := bufio.NewReaderSize(conn, wire.TaskBatchBytes)
	buf := make([]byte, wire.TaskBatchBytes)
	for {
		if err := wire.ReadBatch(r, buf); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.settings.Logger.With("error", err).Error(stage.LogFramingError)
			return err
		}
		e.Submit(buf)
	}
}

// Submit decodes one encoded task batch into a pooled entry and hands it to
// the worker pool. It reports whether the batch was accepted; a full queue
// sheds a batch instead of blocking.
func (e *Executor) Submit(encoded []byte) bool {
	entry := e.entries.Get()
	if err := entry.Fill(encoded); err != nil {
		e.entries.Put(entry)
		return false
	}

	if !e.workers.Submit(entry) {
		e.settings.Logger.Debug(stage.LogBatchDropped, "queue", e.workers.QueueLen())
		e.settings.Metrics.RecordBatchDropped(context.Background())
		return false
	}
	return true
}

func (e *Executor) execute(ctx context.Context, entry *batch.Entry) {
	start := time.Now()
	entry.Execute()
	e.settings.Metrics.RecordBatchDuration(ctx, time.Since(start))

	select {
	case e.handoff <- entry:
	case <-ctx.Done():
		e.entries.Put(entry)
	}
}

func (e *Executor) release(entry *batch.Entry) {
	e.entries.Put(entry)
}

// sendLoop writes every computed batch to the validator. A failed write
// stops the role, since the validator would read every later batch at a
// shifted offset.
func (e *Executor) sendLoop(ctx context.Context) error {
	w := bufio.NewWriterSize(e.outbound, wire.ResultBatchBytes)
	for {
		select {
		case <-ctx.Done():
			e.drainHandoff()
			return nil
		case entry := <-e.handoff:
			if err := e.send(w, entry); err != nil {
				e.drainHandoff()
				if ctx.Err() != nil {
					return nil
				}
				e.settings.Logger.With("error", err).Error(stage.LogSendError)
				e.settings.Metrics.RecordSendError(ctx, "tcp")
				return fmt.Errorf("send results to validator: %w", err)
			}
		}
	}
}

func (e *Executor) send(w *bufio.Writer, entry *batch.Entry) error {
	defer e.entries.Put(entry)

	n := entry.Len()
	if _, err := w.Write(entry.Output()); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	e.completed.Add(int64(n))
	e.settings.Metrics.RecordTasks(context.Background(), stage.TasksCompleted, int64(n))
	return nil
}

func (e *Executor) drainHandoff() {
	for {
		select {
		case entry := <-e.handoff:
			e.entries.Put(entry)
		default:
			return
		}
	}
}

// ReportStatus sends and clears the number of tasks completed since the
// previous report, with the current backlog.
func (e *Executor) ReportStatus() {
	n := e.completed.ReadAndReset()
	queue := e.workers.QueueLen()
	pooled := e.entries.Len()

	msg := fmt.Sprintf("%d tasks completed. EXE TPS is %s. Waiting queue: %d. Tasks Pool size: %d",
		n, tps(n, e.cfg.ReportInterval), queue, pooled)
	if err := e.reporter.Send(msg); err != nil {
		e.settings.Logger.With("error", err).Error(stage.LogReportError)
		e.settings.Metrics.RecordSendError(context.Background(), "udp")
		return
	}
	e.settings.Logger.Info(stage.LogStatusReported,
		"tasks", n,
		"queue", queue,
		"pooled", pooled,
		"allocated", e.entries.Allocated(),
		"dropped", e.workers.Dropped(),
	)
}

func tps(n int64, interval time.Duration) string {
	return fmt.Sprintf("%g", float64(n)/interval.Seconds())
}

// Stats is a point-in-time view of the executor's backlog.
type Stats struct {
	Completed int64
	Queued    int
	Pooled    int
	Allocated int64
	Dropped   int64
}

func (e *Executor) Stats() Stats {
	return Stats{
		Completed: e.completed.Load(),
		Queued:    e.workers.QueueLen(),
		Pooled:    e.entries.Len(),
		Allocated: e.entries.Allocated(),
		Dropped:   e.workers.Dropped(),
	}
}
