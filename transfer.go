package modelfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// transfer streams one artifact into the part file next to its destination.
// It owns the part file from acquisition until promote or discard.
type transfer struct {
	// url is the resolved artifact location.
	url string

	// dest is the final destination path.
	dest string

	// part is the in-flight path, dest plus partSuffix.
	part string

	// storage creates the destination directory.
	storage *storage

	// opener reads the remote source.
	opener *opener

	// logger receives diagnostic messages.
	logger Logger

	// cancelled is shared with the owning controller and written only by Cancel.
	cancelled *atomic.Bool

	// onProgress is called with the running byte count after every write. May be nil.
	onProgress func(written int64)

	// written counts bytes written to the part file. Never decreases.
	written atomic.Int64

	// lock holds the part file exclusively while the transfer owns it.
	lock *fileLock
}

// newTransfer prepares a transfer of rawURL into dest.
func newTransfer(rawURL, dest string, st *storage, op *opener, cancelled *atomic.Bool, logger Logger) *transfer {
	return &transfer{
		url:       rawURL,
		dest:      dest,
		part:      partPath(dest),
		storage:   st,
		opener:    op,
		logger:    logger,
		cancelled: cancelled,
	}
}

// run performs the transfer and returns the number of bytes written.
// On success the part file is synced and still locked; the caller must
// promote or discard it. On failure the part file has already been removed.
func (t *transfer) run(ctx context.Context) (int64, error) {
	if t.cancelled.Load() {
		return 0, ErrCancelled
	}

	// No silent overwrite of an installed artifact
	if err := checkDestinationFree(t.dest); err != nil {
		return 0, err
	}
	if err := t.storage.ensureDir(); err != nil {
		return 0, err
	}

	if err := t.acquire(); err != nil {
		return 0, err
	}

	n, err := t.copy(ctx)
	if err == nil {
		if serr := t.lock.file.Sync(); serr != nil {
			err = fmt.Errorf("%w: syncing %s: %v", ErrStorageError, t.part, serr)
		}
	}
	if err != nil {
		t.discard()
		return n, err
	}

	t.logger.Debug("transfer complete", "url", t.url, "bytes", n)
	return n, nil
}

// acquire opens and locks the part file, truncating any stale content.
// A part file locked by another writer yields ErrAlreadyExists and is left alone.
func (t *transfer) acquire() error {
	lock, err := newFileLock(t.part)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	if err := lock.TryLock(); err != nil {
		lock.Unlock()
		if errors.Is(err, errLockBusy) {
			return fmt.Errorf("%s is being downloaded by another writer: %w", t.dest, ErrAlreadyExists)
		}
		return fmt.Errorf("%w: locking %s: %v", ErrStorageError, t.part, err)
	}

	if err := lock.file.Truncate(0); err != nil {
		t.lock = lock
		t.discard()
		return fmt.Errorf("%w: truncating %s: %v", ErrStorageError, t.part, err)
	}

	t.lock = lock
	return nil
}

// copy streams the source into the locked part file.
func (t *transfer) copy(ctx context.Context) (int64, error) {
	body, size, err := t.opener.open(ctx, t.url)
	if err != nil {
		return 0, t.classify(ctx, err)
	}
	defer body.Close()

	t.logger.Debug("transfer started", "url", t.url, "size", size)

	buf := make([]byte, transferBufferSize)
	for {
		// Checked before every read so a cancel stops consumption within one buffer
		if t.cancelled.Load() {
			return t.written.Load(), ErrCancelled
		}

		nr, rerr := body.Read(buf)
		if nr > 0 {
			if _, werr := t.lock.file.Write(buf[:nr]); werr != nil {
				return t.written.Load(), fmt.Errorf("%w: writing %s: %v", ErrStorageError, t.part, werr)
			}
			total := t.written.Add(int64(nr))
			if t.onProgress != nil {
				t.onProgress(total)
			}
		}

		if rerr == io.EOF {
			return t.written.Load(), nil
		}
		if rerr != nil {
			return t.written.Load(), t.classify(ctx, rerr)
		}
	}
}

// classify maps a source error to the error taxonomy.
// Cancellation wins over whatever error the aborted read produced.
func (t *transfer) classify(ctx context.Context, err error) error {
	switch {
	case t.cancelled.Load(), errors.Is(ctx.Err(), context.Canceled):
		return ErrCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTransferInterrupted, context.DeadlineExceeded)
	case errors.Is(err, ErrSourceNotFound), errors.Is(err, ErrTransferInterrupted), errors.Is(err, ErrInvalidOptions):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransferInterrupted, err)
	}
}

// promote installs the part file at dest without replacing anything there.
func (t *transfer) promote() error {
	if t.lock == nil {
		return fmt.Errorf("%w: %s is not held", ErrStorageError, t.part)
	}
	if err := t.lock.promote(t.dest); err != nil {
		t.discard()
		return err
	}
	t.lock = nil
	return nil
}

// discard removes the part file and releases it.
func (t *transfer) discard() {
	if t.lock == nil {
		return
	}
	if err := t.lock.discard(); err != nil {
		t.logger.Warn("failed to remove partial download", "path", t.part, "error", err)
	}
	t.lock = nil
}

// bytesWritten returns the running byte count.
func (t *transfer) bytesWritten() int64 {
	return t.written.Load()
}

// verify checks the held part file against desc.
func (t *transfer) verify(ctx context.Context, desc ModelDescriptor) error {
	if t.lock == nil || t.lock.file == nil {
		return fmt.Errorf("%w: %s is not held", ErrStorageError, t.part)
	}
	return verifyHandle(ctx, t.lock.file, desc)
}
