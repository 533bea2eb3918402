package modelfetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Controller is the handle for one download.
// It is returned by Download before any network I/O happens and settles
// exactly once into StateSucceeded, StateFailed or StateCancelled.
// All methods are safe for concurrent use.
type Controller struct {
	id    string
	model string

	// catalogURL is the catalog base URL the model is resolved against.
	catalogURL string

	opts    DownloadOptions
	storage *storage
	catalog *catalogClient
	opener  *opener
	logger  Logger

	// cancelled is the cancellation flag shared with the transfer.
	cancelled atomic.Bool

	// stop cancels the work context.
	stop context.CancelFunc

	// done is closed once the result is set.
	done chan struct{}

	// started is the initiation time.
	started time.Time

	// mu protects state, desc, xfer and result. It is held across the
	// final rename so Cancel cannot interleave with promotion.
	mu     sync.Mutex
	state  State
	desc   ModelDescriptor
	xfer   *transfer
	result Result
}

// newController creates a pending controller. Call start to run it.
func newController(model, catalogURL string, opts DownloadOptions, st *storage, cat *catalogClient, op *opener, logger Logger) *Controller {
	return &Controller{
		id:         uuid.NewString(),
		model:      model,
		catalogURL: catalogURL,
		opts:       opts,
		storage:    st,
		catalog:    cat,
		opener:     op,
		logger:     logger,
		done:       make(chan struct{}),
		started:    time.Now(),
		state:      StatePending,
	}
}

// start runs the download on its own goroutine.
// The download stops when ctx is done or Cancel is called.
func (c *Controller) start(ctx context.Context) {
	workCtx, stop := context.WithCancel(ctx)
	c.stop = stop
	go c.run(workCtx)
}

// ID returns the unique identifier of this download.
func (c *Controller) ID() string {
	return c.id
}

// Model returns the requested model identifier.
func (c *Controller) Model() string {
	return c.model
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Descriptor returns the resolved catalog metadata.
// The zero value is returned while the controller is still pending.
func (c *Controller) Descriptor() ModelDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc
}

// BytesWritten returns the number of bytes written so far.
func (c *Controller) BytesWritten() int64 {
	c.mu.Lock()
	xfer := c.xfer
	bytes := c.result.Bytes
	c.mu.Unlock()

	if xfer != nil {
		return xfer.bytesWritten()
	}
	return bytes
}

// Cancel requests that the download stop.
// It is idempotent and has no effect once the file is being renamed into
// place or the download has settled. A cancel that takes effect guarantees
// the outcome is StateCancelled and no destination file is created.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateFinalizing || c.state.IsTerminal() {
		return
	}
	if c.cancelled.Swap(true) {
		return
	}
	c.logger.Debug("download cancel requested", "id", c.id, "model", c.model, "state", c.state)
	if c.stop != nil {
		c.stop()
	}
}

// Done returns a channel that is closed when the download settles.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the download settles or ctx is done.
// It returns the destination path on success and the settled error otherwise.
// ctx only bounds the wait; use Cancel to stop the download. A settled
// download reports its outcome even when ctx is already done.
func (c *Controller) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		res := c.Result()
		return res.Path, res.Err
	case <-ctx.Done():
		select {
		case <-c.done:
			res := c.Result()
			return res.Path, res.Err
		default:
		}
		return "", ctx.Err()
	}
}

// Result returns a snapshot of the outcome.
// Before settlement State is the current non-terminal state.
// After settlement every call returns the same Result.
func (c *Controller) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.IsTerminal() {
		return Result{State: c.state}
	}
	return c.result
}

// run drives resolve, transfer, verify and promote.
func (c *Controller) run(ctx context.Context) {
	defer c.stop()

	c.logger.Debug("download started", "id", c.id, "model", c.model, "catalog", c.catalogURL)

	desc, err := c.catalog.resolve(ctx, c.catalogURL, c.model)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrCatalogUnreachable) {
			err = fmt.Errorf("%w: %w", ErrCatalogUnreachable, err)
		}
		c.finish("", 0, err)
		return
	}

	dest := c.storage.destinationPath(desc.Filename)
	xfer := newTransfer(desc.URL, dest, c.storage, c.opener, &c.cancelled, c.logger)
	if c.opts.Progress != nil {
		xfer.onProgress = func(written int64) {
			c.opts.Progress(Progress{
				ID:           c.id,
				Model:        c.model,
				State:        StateTransferring,
				BytesWritten: written,
				BytesTotal:   desc.Size,
			})
		}
	}

	if !c.advance(StateTransferring, func() {
		c.desc = desc
		c.xfer = xfer
	}) {
		c.finish("", 0, ErrCancelled)
		return
	}

	n, err := xfer.run(ctx)
	if err != nil {
		c.finish("", n, err)
		return
	}

	if !c.advance(StateVerifying, nil) {
		xfer.discard()
		c.finish("", n, ErrCancelled)
		return
	}
	if err := xfer.verify(ctx, desc); err != nil {
		xfer.discard()
		c.finish("", n, err)
		return
	}

	if err := c.promote(xfer); err != nil {
		c.finish("", n, err)
		return
	}
	c.finish(dest, n, nil)
}

// advance moves to next unless cancellation was requested.
// apply, if set, runs under the same lock.
func (c *Controller) advance(next State, apply func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled.Load() {
		return false
	}
	if apply != nil {
		apply()
	}
	c.state = next
	return true
}

// promote renames the verified part file into place.
// The cancellation flag is re-checked under the lock Cancel takes, and the
// rename completes before that lock is released.
func (c *Controller) promote(xfer *transfer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled.Load() {
		xfer.discard()
		return ErrCancelled
	}
	c.state = StateFinalizing
	return xfer.promote()
}

// finish settles the controller. Only the first call has any effect.
func (c *Controller) finish(path string, n int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.IsTerminal() {
		return
	}

	res := Result{Bytes: n}
	switch {
	case err == nil:
		res.State = StateSucceeded
		res.Path = path
	case c.cancelled.Load(), errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		res.State = StateCancelled
		res.Err = ErrCancelled
	case errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransferInterrupted) && !errors.Is(err, ErrCatalogUnreachable):
		res.State = StateFailed
		res.Err = fmt.Errorf("%w: %w", ErrTransferInterrupted, err)
	default:
		res.State = StateFailed
		res.Err = err
	}

	if c.opts.Debug {
		res.Elapsed = time.Since(c.started)
	}

	c.state = res.State
	c.result = res
	c.xfer = nil
	close(c.done)

	switch res.State {
	case StateSucceeded:
		c.logger.Info("download succeeded", "id", c.id, "model", c.model, "path", res.Path, "bytes", n)
	case StateCancelled:
		c.logger.Info("download cancelled", "id", c.id, "model", c.model, "bytes", n)
	default:
		c.logger.Warn("download failed", "id", c.id, "model", c.model, "error", res.Err)
	}
	if c.opts.Debug {
		c.logger.Info("download timing", "id", c.id, "model", c.model, "elapsed", res.Elapsed)
	}
}
