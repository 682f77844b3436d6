package stage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// Role is one long-running pipeline process: generator, executor, validator
// or monitor.
//   - Init binds and dials everything the role needs; a failure is a setup
//     error and the role never runs.
//   - Run drives the role's loops until ctx is cancelled or a loop fails.
//   - Close releases every socket; it must be safe to call after Run has
//     already closed some of them.
type Role interface {
	Name() string
	Init() error
	Run(ctx context.Context) error
	Close() error
}

// latch runs f on the first call only. Later calls return repeated.
type latch struct {
	fired    atomic.Bool
	repeated error
	f        func() error
}

func (l *latch) fire() error {
	if l.fired.Swap(true) {
		return l.repeated
	}
	return l.f()
}

// Controller starts and stops one initialized role.
type Controller struct {
	*fsm

	role   Role
	logger *slog.Logger

	starter *latch
	stopper *latch

	cancel context.CancelFunc
	doneCh chan struct{}
	err    error
}

// Initialize runs role.Init and returns its controller. If Init fails the
// role is closed, the returned controller refuses to start, and the error
// is returned alongside it.
func Initialize(role Role, opts ...Option) (*Controller, error) {
	settings := NewSettings(role.Name(), opts...)

	c := &Controller{
		fsm:    &fsm{},
		role:   role,
		logger: settings.Logger,
		doneCh: make(chan struct{}),
	}
	c.starter = &latch{f: c.start, repeated: ErrMultipleStart}
	c.stopper = &latch{f: c.stop, repeated: ErrMultipleStop}

	if err := c.transitionTo(StateCreated, StateInitializing); err != nil {
		return c, err
	}

	if initErr := role.Init(); initErr != nil {
		var err error = initErr
		if closeErr := role.Close(); closeErr != nil {
			err = multierror.Append(initErr, closeErr)
		}
		c.logger.With("error", err).Error(logRoleInitFailed)
		_ = c.transitionTo(StateInitializing, StateTerminated)
		close(c.doneCh)
		return c, err
	}

	if err := c.transitionTo(StateInitializing, StateWaitingToStart); err != nil {
		return c, err
	}
	c.logger.Info(logRoleInitialized)
	return c, nil
}

func (c *Controller) transitionTo(from, to RoleState) error {
	if err := c.transition(from, to); err != nil {
		c.logger.With("error", err).Warn(logStateTransitionRefused)
		return err
	}
	c.logger.Debug(logStateTransition, "from", from.String(), "to", to.String())
	return nil
}

// start only succeeds from WaitingToStart, so a role that failed Init or
// was stopped before it ran never runs.
func (c *Controller) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if err := c.transitionTo(StateWaitingToStart, StateRunning); err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrUnableToStart, err)
	}
	c.logger.Info(logRoleStarted)

	go c.run(ctx)
	return nil
}

func (c *Controller) run(ctx context.Context) {
	runErr := c.role.Run(ctx)

	_ = c.transitionTo(StateRunning, StateTerminating)
	err := runErr
	if closeErr := c.role.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}
	c.err = err

	if err != nil {
		c.logger.With("error", err).Error(logRoleFailed)
	} else {
		c.logger.Info(logRoleStopped)
	}

	_ = c.transitionTo(StateTerminating, StateTerminated)
	close(c.doneCh)
}

func (c *Controller) stop() error {
	if c.transition(StateWaitingToStart, StateTerminating) == nil {
		c.logger.Info(logClosingBeforeRun)
		c.err = c.role.Close()
		_ = c.transitionTo(StateTerminating, StateTerminated)
		close(c.doneCh)
		return c.err
	}

	// Running, or already terminated by a failed Init or loop.
	if c.getState() == StateRunning {
		c.cancel()
	}
	<-c.doneCh
	return c.err
}

// Start launches the role's loops. Only the first call has an effect.
func (c *Controller) Start() error {
	return c.starter.fire()
}

// Stop cancels the role, waits for its loops to return and its sockets to
// be closed, and returns the role's terminal error.
func (c *Controller) Stop() error {
	return c.stopper.fire()
}

// Done is closed once the role has terminated, either by Stop or because
// one of its loops failed.
func (c *Controller) Done() <-chan struct{} {
	return c.doneCh
}

// Err returns the terminal error. Valid after Done is closed.
func (c *Controller) Err() error {
	select {
	case <-c.doneCh:
		return c.err
	default:
		return ErrNotRunning
	}
}

func (c *Controller) State() RoleState {
	return c.getState()
}

func (c *Controller) Name() string {
	return c.role.Name()
}
