package stage

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/samber/lo"
)

// MaxDatagram bounds a status datagram, tag and separator included.
const MaxDatagram = 1024

// DefaultReportInterval is how often every role sends its status.
const DefaultReportInterval = 60 * time.Second

// Tag identifies the role a status datagram comes from.
type Tag string

const (
	TagGenerator Tag = "GEN"
	TagExecutor  Tag = "EXE"
	TagValidator Tag = "VAL"
)

// Tags lists every known tag.
var Tags = []Tag{TagGenerator, TagExecutor, TagValidator}

// ParseTag normalizes s to upper case and reports whether it is known.
// Surrounding whitespace is part of the tag, so " GEN" is not known.
func ParseTag(s string) (Tag, bool) {
	t := Tag(strings.ToUpper(s))
	return t, lo.Contains(Tags, t)
}

// FormatStatus renders "TAG@content", truncated to MaxDatagram bytes.
func FormatStatus(tag Tag, content string) []byte {
	msg := []byte(string(tag) + "@" + content)
	if len(msg) > MaxDatagram {
		msg = msg[:MaxDatagram]
	}
	return msg
}

// Reporter sends tagged status datagrams to the monitor. Sends are fire and
// forget: an error only means this one report is lost.
type Reporter struct {
	tag  Tag
	conn net.Conn
}

// DialReporter opens the UDP socket towards the monitor at addr.
func DialReporter(tag Tag, addr string) (*Reporter, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial monitor %s: %w", addr, err)
	}
	return &Reporter{tag: tag, conn: conn}, nil
}

func (r *Reporter) Send(content string) error {
	_, err := r.conn.Write(FormatStatus(r.tag, content))
	return err
}

func (r *Reporter) Close() error {
	if r == nil {
		return nil
	}
	return r.conn.Close()
}

// Every calls fn immediately and then once per interval until ctx is done.
func Every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
