package stage_test

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	stage "github.com/Ethan-cw/HighPerformanceComputing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTag(t *testing.T) {
	for _, s := range []string{"GEN", "gen", "Exe", "val"} {
		tag, ok := stage.ParseTag(s)
		assert.True(t, ok, s)
		assert.Equal(t, strings.ToUpper(s), string(tag))
	}

	for _, s := range []string{" gen ", "GEN ", " EXE", "VAL\n"} {
		_, ok := stage.ParseTag(s)
		assert.False(t, ok, "%q", s)
	}

	_, ok := stage.ParseTag("FOO")
	assert.False(t, ok)
	_, ok = stage.ParseTag("")
	assert.False(t, ok)
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "GEN@42 tasks generated", string(stage.FormatStatus(stage.TagGenerator, "42 tasks generated")))

	long := stage.FormatStatus(stage.TagValidator, strings.Repeat("x", 2*stage.MaxDatagram))
	assert.Len(t, long, stage.MaxDatagram)
	assert.True(t, strings.HasPrefix(string(long), "VAL@x"))
}

func TestReporter_Send(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	r, err := stage.DialReporter(stage.TagExecutor, pc.LocalAddr().String())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Send("1 tasks completed"))

	buf := make([]byte, stage.MaxDatagram)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "EXE@1 tasks completed", string(buf[:n]))
}

func TestReporter_NilClose(t *testing.T) {
	var r *stage.Reporter
	assert.NoError(t, r.Close())
}

func TestEvery_FiresImmediately(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		stage.Every(ctx, time.Hour, func() { calls.Add(1) })
	}()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.EqualValues(t, 1, calls.Load())
}

func TestEvery_Ticks(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stage.Every(ctx, 10*time.Millisecond, func() { calls.Add(1) })
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestCounter_ReadAndResetLosesNothing(t *testing.T) {
	var c stage.Counter
	var wg sync.WaitGroup

	const writers, adds = 8, 10000
	var total atomic.Int64

	stopReader := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stopReader:
				total.Add(c.ReadAndReset())
				return
			default:
				total.Add(c.ReadAndReset())
			}
		}
	}()

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < adds; j++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()
	close(stopReader)
	<-readerDone

	assert.EqualValues(t, writers*adds, total.Load())
	assert.EqualValues(t, 0, c.Load())
}
