package modelfetch

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// verifyFile checks the file at path against the descriptor's expected size
// and checksum. A descriptor with neither set passes without reading the file.
func verifyFile(ctx context.Context, path string, desc ModelDescriptor) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrStorageError, path, err)
	}
	defer f.Close()
	return verifyHandle(ctx, f, desc)
}

// verifyHandle verifies an already open file from its first byte.
// The transfer verifies through its locked handle since Windows byte-range
// locks block reads from other handles.
func verifyHandle(ctx context.Context, f *os.File, desc ModelDescriptor) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrStorageError, f.Name(), err)
	}
	if desc.Size > 0 && info.Size() != desc.Size {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrSizeMismatch, desc.Size, info.Size())
	}

	if desc.Checksum.IsZero() {
		return nil
	}

	h, err := newHash(desc.Checksum.Algorithm)
	if err != nil {
		return err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking %s: %v", ErrStorageError, f.Name(), err)
	}
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: hashing %s: %v", ErrStorageError, f.Name(), err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, desc.Checksum.Value) {
		return fmt.Errorf("%w: expected %s %s, got %s", ErrChecksumMismatch, desc.Checksum.Algorithm, desc.Checksum.Value, actual)
	}
	return nil
}

// verifyMethod names what verifyFile will check for desc.
func verifyMethod(desc ModelDescriptor) string {
	switch {
	case !desc.Checksum.IsZero():
		return desc.Checksum.Algorithm
	case desc.Size > 0:
		return "size"
	default:
		return "none"
	}
}

func newHash(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New(), nil
	case "sha256":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported checksum algorithm %q", ErrChecksumMismatch, algorithm)
	}
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
