package modelfetch

import (
	"time"
)

// DefaultCatalogURL is the catalog base URL used when none is configured.
const DefaultCatalogURL = "https://gpt4all.io/models"

// Config configures a Manager.
type Config struct {
	// CatalogURL is the base URL of the model catalog.
	// The listing is read from <CatalogURL>/models.json.
	// If empty, DefaultCatalogURL is used.
	CatalogURL string

	// Location is the default destination directory for downloads.
	// If empty, the current working directory at download time is used.
	Location string
}

// DownloadOptions configures a single download.
// Zero values fall back to the Manager's Config.
type DownloadOptions struct {
	// Location is the destination directory.
	Location string

	// URL overrides the catalog base URL for this download.
	URL string

	// Debug records the wall-clock duration of the download in Result.Elapsed.
	Debug bool

	// Progress is called after every write to the temporary file.
	// It runs on the download goroutine and must not block.
	Progress func(Progress)
}

// Checksum is an expected content digest.
type Checksum struct {
	// Algorithm is "md5" or "sha256".
	Algorithm string

	// Value is the hex-encoded digest.
	Value string
}

// IsZero reports whether no checksum is set.
func (c Checksum) IsZero() bool {
	return c.Algorithm == "" || c.Value == ""
}

// String returns "algorithm:value", or "" when unset.
func (c Checksum) String() string {
	if c.IsZero() {
		return ""
	}
	return c.Algorithm + ":" + c.Value
}

// ModelDescriptor is the resolved catalog metadata for one model.
// It is immutable once resolved.
type ModelDescriptor struct {
	// ID is the identifier the caller asked for.
	ID string

	// Name is the human readable catalog name, if any.
	Name string

	// Filename is the artifact file name, used as the destination name.
	Filename string

	// URL is where the artifact is downloaded from.
	URL string

	// Size is the expected size in bytes, or 0 when the catalog does not say.
	Size int64

	// Checksum is the expected digest; zero when the catalog carries none.
	Checksum Checksum
}

// State is a download controller's lifecycle state.
type State int

const (
	// StatePending means the catalog is being resolved.
	StatePending State = iota

	// StateTransferring means bytes are being streamed to the temporary file.
	StateTransferring

	// StateVerifying means the temporary file is being checked against the descriptor.
	StateVerifying

	// StateFinalizing means the temporary file is being promoted to its final name.
	StateFinalizing

	// StateSucceeded means the file is in place and verified.
	StateSucceeded

	// StateFailed means an error ended the download.
	StateFailed

	// StateCancelled means the caller cancelled the download.
	StateCancelled
)

var stateNames = [...]string{
	StatePending:      "pending",
	StateTransferring: "transferring",
	StateVerifying:    "verifying",
	StateFinalizing:   "finalizing",
	StateSucceeded:    "succeeded",
	StateFailed:       "failed",
	StateCancelled:    "cancelled",
}

// String returns the lowercase state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// IsTerminal reports whether no further transition can happen from s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Progress reports transfer progress for one download.
type Progress struct {
	// ID is the controller ID.
	ID string

	// Model is the requested model identifier.
	Model string

	// State is the controller state when the update was produced.
	State State

	// BytesWritten is the number of bytes written to the temporary file so far.
	BytesWritten int64

	// BytesTotal is the expected size, or 0 when unknown.
	BytesTotal int64
}

// Result is the settled outcome of a download.
type Result struct {
	// State is StateSucceeded, StateFailed or StateCancelled once settled.
	State State

	// Path is the final destination path. Set only on success.
	Path string

	// Bytes is the number of bytes transferred.
	Bytes int64

	// Err is nil on success, ErrCancelled on cancellation, or the propagated failure.
	Err error

	// Elapsed is the wall-clock duration from initiation to settlement.
	// Recorded only when DownloadOptions.Debug is set.
	Elapsed time.Duration
}
