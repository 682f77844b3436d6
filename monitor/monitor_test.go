package monitor_test

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	stage "github.com/Ethan-cw/HighPerformanceComputing"
	"github.com/Ethan-cw/HighPerformanceComputing/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type line struct {
	role    string
	content string
}

type recordingSink struct {
	mu    sync.Mutex
	lines []line
}

func (s *recordingSink) record(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line{role, content})
}

func (s *recordingSink) Generator(content string) { s.record("GEN", content) }
func (s *recordingSink) Executor(content string)  { s.record("EXE", content) }
func (s *recordingSink) Validator(content string) { s.record("VAL", content) }

func (s *recordingSink) snapshot() []line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]line(nil), s.lines...)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		datagram string
		tag      stage.Tag
		content  string
		ok       bool
	}{
		{"generator", "GEN@42 tasks generated", stage.TagGenerator, "42 tasks generated", true},
		{"lower case tag", "gen@42 tasks", stage.TagGenerator, "42 tasks", true},
		{"mixed case tag", "eXe@1 tasks completed", stage.TagExecutor, "1 tasks completed", true},
		{"validator", "VAL@Mon total tasks: 0", stage.TagValidator, "Mon total tasks: 0", true},
		{"nul padding", "VAL@x\x00\x00\x00\x00", stage.TagValidator, "x", true},
		{"trailing whitespace", "GEN@x \n", stage.TagGenerator, "x", true},
		{"split on first at", "EXE@a@b", stage.TagExecutor, "a@b", true},
		{"empty content", "GEN@", stage.TagGenerator, "", true},
		{"unknown tag", "FOO@x", "", "", false},
		{"padded tag", " gen @x", "", "", false},
		{"space before separator", "GEN @x", "", "", false},
		{"leading space", " GEN@x", "", "", false},
		{"no separator", "GEN 42", "", "", false},
		{"empty", "", "", "", false},
		{"only padding", "\x00\x00  ", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, content, ok := monitor.Parse([]byte(tt.datagram))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.tag, tag)
			assert.Equal(t, tt.content, content)
		})
	}
}

func TestMonitor_HandleDispatchesByTag(t *testing.T) {
	sink := &recordingSink{}
	m := monitor.New(monitor.Config{Sink: sink})

	assert.True(t, m.Handle([]byte("GEN@a")))
	assert.True(t, m.Handle([]byte("exe@b")))
	assert.True(t, m.Handle([]byte("VAL@c")))
	assert.False(t, m.Handle([]byte("FOO@d")))
	assert.False(t, m.Handle(nil))

	assert.Equal(t, []line{{"GEN", "a"}, {"EXE", "b"}, {"VAL", "c"}}, sink.snapshot())
	assert.EqualValues(t, 3, m.Received())
	assert.EqualValues(t, 2, m.Dropped())
}

func TestMonitor_ReceivesDatagrams(t *testing.T) {
	sink := &recordingSink{}
	m := monitor.New(monitor.Config{ListenAddr: "127.0.0.1:0", Sink: sink})
	require.NoError(t, m.Init())
	t.Cleanup(func() { m.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	conn, err := net.Dial("udp", m.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	for _, msg := range []string{"GEN@1 tasks generated", "BAD@ignored", "", "val@ok"} {
		_, err := conn.Write([]byte(msg))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []line{{"GEN", "1 tasks generated"}, {"VAL", "ok"}}, sink.snapshot())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitor_InitFailsOnBusyPort(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	m := monitor.New(monitor.Config{ListenAddr: pc.LocalAddr().String()})
	assert.Error(t, m.Init())
	assert.NoError(t, m.Close())
}

func TestLogSink_WritesSeparators(t *testing.T) {
	var buf bytes.Buffer
	sink := &monitor.LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	sink.Generator("g")
	sink.Executor("e")
	sink.Validator("v")

	out := buf.String()
	assert.Contains(t, out, `msg="Generator: g"`)
	assert.Contains(t, out, `msg="Executor: e"`)
	assert.Contains(t, out, `msg="Validator: v"`)
	assert.Contains(t, out, strings.Repeat("-", 48))
	assert.Contains(t, out, strings.Repeat("=", 48))
	assert.Contains(t, out, strings.Repeat("*", 48))
}
