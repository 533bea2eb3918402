package modelfetch

import "errors"

// Sentinel errors for download operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrModelNotFound indicates the identifier has no entry in the catalog.
	ErrModelNotFound = errors.New("modelfetch: model not found in catalog")

	// ErrCatalogUnreachable indicates the catalog listing could not be retrieved or decoded.
	ErrCatalogUnreachable = errors.New("modelfetch: catalog unreachable")

	// ErrAlreadyExists indicates the destination file already exists, or another
	// download currently owns it.
	ErrAlreadyExists = errors.New("modelfetch: destination already exists")

	// ErrSourceNotFound indicates the resolved download URL returned not found.
	ErrSourceNotFound = errors.New("modelfetch: source not found")

	// ErrTransferInterrupted indicates a network failure while streaming.
	ErrTransferInterrupted = errors.New("modelfetch: transfer interrupted")

	// ErrSizeMismatch indicates the downloaded size differs from the catalog size.
	ErrSizeMismatch = errors.New("modelfetch: size mismatch")

	// ErrChecksumMismatch indicates the downloaded bytes failed checksum verification.
	ErrChecksumMismatch = errors.New("modelfetch: checksum mismatch")

	// ErrCancelled indicates the caller cancelled the download.
	// It is not a failure of the system.
	ErrCancelled = errors.New("modelfetch: download cancelled")

	// ErrStorageError indicates a local filesystem operation failed.
	ErrStorageError = errors.New("modelfetch: storage error")

	// ErrInvalidOptions indicates malformed input to Download.
	ErrInvalidOptions = errors.New("modelfetch: invalid download options")
)
