// Package wire encodes task and result records as fixed-width big-endian
// byte layouts. Batches are written back to back with no length prefix, so
// both ends of a stream must agree on BatchSize and the record size.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// BatchSize is the number of records in one batch.
	BatchSize = 2048

	TaskSize   = 8 + 2 + 2
	DigestSize = 32
	ResultSize = TaskSize + DigestSize

	TaskBatchBytes   = BatchSize * TaskSize
	ResultBatchBytes = BatchSize * ResultSize
)

var (
	ErrTruncated = errors.New("truncated record")
	ErrFraming   = errors.New("framing error")
)

// FramingError reports a stream that ended before a whole batch was read.
type FramingError struct {
	Want int
	Got  int
	Err  error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: read %d of %d batch bytes: %v", e.Got, e.Want, e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

func (e *FramingError) Is(target error) bool {
	return target == ErrFraming
}

// Task is one unit of work.
type Task struct {
	ID uint64
	X  uint16
	Y  uint16
}

// NewTask keeps only the low 16 bits of x and y.
func NewTask(id uint64, x, y int) Task {
	return Task{ID: id, X: uint16(x & 0xffff), Y: uint16(y & 0xffff)}
}

// Result is a task together with its computed digest.
type Result struct {
	Task
	Digest [DigestSize]byte
}

// PutTask encodes t into the first TaskSize bytes of dst.
func PutTask(dst []byte, t Task) error {
	if len(dst) < TaskSize {
		return ErrTruncated
	}
	binary.BigEndian.PutUint64(dst[0:8], t.ID)
	binary.BigEndian.PutUint16(dst[8:10], t.X)
	binary.BigEndian.PutUint16(dst[10:12], t.Y)
	return nil
}

// ReadTask decodes one task from the front of src.
func ReadTask(src []byte) (Task, error) {
	if len(src) < TaskSize {
		return Task{}, ErrTruncated
	}
	return Task{
		ID: binary.BigEndian.Uint64(src[0:8]),
		X:  binary.BigEndian.Uint16(src[8:10]),
		Y:  binary.BigEndian.Uint16(src[10:12]),
	}, nil
}

// PutResult encodes r into the first ResultSize bytes of dst.
func PutResult(dst []byte, r Result) error {
	if len(dst) < ResultSize {
		return ErrTruncated
	}
	_ = PutTask(dst, r.Task)
	copy(dst[TaskSize:ResultSize], r.Digest[:])
	return nil
}

// ReadResult decodes one result from the front of src.
func ReadResult(src []byte) (Result, error) {
	if len(src) < ResultSize {
		return Result{}, ErrTruncated
	}
	t, _ := ReadTask(src)
	r := Result{Task: t}
	copy(r.Digest[:], src[TaskSize:ResultSize])
	return r, nil
}

// EncodeTasks writes tasks back to back into dst, which must hold
// len(tasks)*TaskSize bytes.
func EncodeTasks(dst []byte, tasks []Task) error {
	if len(dst) < len(tasks)*TaskSize {
		return ErrTruncated
	}
	for i, t := range tasks {
		_ = PutTask(dst[i*TaskSize:], t)
	}
	return nil
}

// DecodeTasks appends every whole task in src to dst.
func DecodeTasks(dst []Task, src []byte) ([]Task, error) {
	if len(src)%TaskSize != 0 {
		return dst, ErrTruncated
	}
	for off := 0; off < len(src); off += TaskSize {
		t, _ := ReadTask(src[off:])
		dst = append(dst, t)
	}
	return dst, nil
}

// DecodeResults appends every whole result in src to dst.
func DecodeResults(dst []Result, src []byte) ([]Result, error) {
	if len(src)%ResultSize != 0 {
		return dst, ErrTruncated
	}
	for off := 0; off < len(src); off += ResultSize {
		r, _ := ReadResult(src[off:])
		dst = append(dst, r)
	}
	return dst, nil
}

// ReadBatch fills buf completely from r. Any shortfall, including a clean
// EOF before the first byte, is returned as a *FramingError.
func ReadBatch(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return &FramingError{Want: len(buf), Got: n, Err: err}
	}
	return nil
}
