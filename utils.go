package stage

import (
	"context"
	"errors"
	"io"
	"net"
	"reflect"

	"github.com/hashicorp/go-multierror"
)

// CloseAll closes every non-nil closer and aggregates the failures. Closing
// something that is already closed is not a failure.
func CloseAll(closers ...io.Closer) error {
	var multierr error
	for _, c := range closers {
		if isNil(c) {
			continue
		}
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			multierr = multierror.Append(multierr, err)
		}
	}
	return multierr
}

// CloseOnDone closes closers once ctx is done, unblocking any goroutine
// stuck reading from or writing to them. It returns nil so it can be used
// directly as a loop in an errgroup.
func CloseOnDone(ctx context.Context, closers ...io.Closer) func() error {
	return func() error {
		<-ctx.Done()
		_ = CloseAll(closers...)
		return nil
	}
}

func isNil(c io.Closer) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
