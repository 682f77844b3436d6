// Package monitor collects the status datagrams the other roles send and
// logs them per role.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	stage "github.com/Ethan-cw/HighPerformanceComputing"
)

const Name = "monitor"

// Parse splits a status datagram into its tag and content. Trailing
// padding, NUL bytes included, is ignored. ok is false for an empty
// datagram, one without '@', and one whose tag is unknown.
func Parse(datagram []byte) (tag stage.Tag, content string, ok bool) {
	s := strings.TrimRight(string(bytes.Trim(datagram, "\x00")), " \t\r\n")
	if s == "" {
		return "", "", false
	}
	rawTag, content, found := strings.Cut(s, "@")
	if !found {
		return "", "", false
	}
	tag, ok = stage.ParseTag(rawTag)
	if !ok {
		return "", "", false
	}
	return tag, content, true
}

// Sink receives the content of every recognised datagram.
type Sink interface {
	Generator(content string)
	Executor(content string)
	Validator(content string)
}

type Config struct {
	ListenAddr string
	// Sink defaults to a LogSink on the role's logger.
	Sink Sink
}

var _ stage.Role = &Monitor{}

type Monitor struct {
	cfg      Config
	settings stage.Settings

	conn     net.PacketConn
	dispatch map[stage.Tag]func(string)

	received stage.Counter
	dropped  stage.Counter
}

func New(cfg Config, opts ...stage.Option) *Monitor {
	settings := stage.NewSettings(Name, opts...)
	if cfg.Sink == nil {
		cfg.Sink = &LogSink{Logger: settings.Logger}
	}

	return &Monitor{
		cfg:      cfg,
		settings: settings,
		dispatch: map[stage.Tag]func(string){
			stage.TagGenerator: cfg.Sink.Generator,
			stage.TagExecutor:  cfg.Sink.Executor,
			stage.TagValidator: cfg.Sink.Validator,
		},
	}
}

func (m *Monitor) Name() string {
	return Name
}

func (m *Monitor) Init() error {
	conn, err := net.ListenPacket("udp", m.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", m.cfg.ListenAddr, err)
	}
	m.conn = conn
	m.settings.Logger.Info(stage.LogListening, "addr", conn.LocalAddr().String())
	return nil
}

// Addr is the bound UDP address. Valid after Init.
func (m *Monitor) Addr() net.Addr {
	return m.conn.LocalAddr()
}

func (m *Monitor) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(stage.CloseOnDone(ctx, m.conn))
	eg.Go(func() error {
		return m.receive(ctx)
	})

	return eg.Wait()
}

func (m *Monitor) Close() error {
	return stage.CloseAll(m.conn)
}

// receive handles one datagram at a time. Read errors are logged and the
// loop goes on until the socket is closed.
func (m *Monitor) receive(ctx context.Context) error {
	buf := make([]byte, stage.MaxDatagram)
	for {
		n, _, err := m.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			m.settings.Logger.With("error", err).Error(stage.LogDatagramReadError)
			continue
		}
		m.Handle(buf[:n])
	}
}

// Handle dispatches one datagram and reports whether it was recognised.
func (m *Monitor) Handle(datagram []byte) bool {
	tag, content, ok := Parse(datagram)
	if !ok {
		m.dropped.Add(1)
		m.settings.Logger.Debug(stage.LogDatagramDropped, "size", len(datagram))
		return false
	}
	m.received.Add(1)
	m.dispatch[tag](content)
	return true
}

// Received and Dropped count datagrams since start.
func (m *Monitor) Received() int64 {
	return m.received.Load()
}

func (m *Monitor) Dropped() int64 {
	return m.dropped.Load()
}
