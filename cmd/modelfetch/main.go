// Command modelfetch lists, downloads and verifies ML models from a catalog.
//
// Configuration is layered: built-in defaults, an optional --config YAML
// file, environment variables, then flags. A .env file in the working
// directory is loaded into the environment first when present.
//   - MODELFETCH_CATALOG_URL: catalog base URL (http, https, file, s3 or gs)
//   - MODELFETCH_MODELS_DIR: destination directory
//   - MODELFETCH_DEBUG: record download timings
//   - MODELFETCH_TIMEOUT: catalog fetch timeout, e.g. 30s
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prethora/modelfetch"
	"github.com/spf13/cobra"

	// Bucket drivers for file://, s3:// and gs:// catalogs.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidArgs indicates invalid command line arguments or configuration.
	ExitInvalidArgs = 2

	// ExitModelNotFound indicates the model was not found in the catalog.
	ExitModelNotFound = 3

	// ExitAlreadyExists indicates the destination file already exists.
	ExitAlreadyExists = 4

	// ExitNetworkError indicates the catalog or the source could not be read.
	ExitNetworkError = 5

	// ExitVerifyFailed indicates size or checksum verification failed.
	ExitVerifyFailed = 6

	// ExitStorageError indicates a filesystem operation failed.
	ExitStorageError = 7

	// ExitCancelled indicates the user interrupted the command.
	ExitCancelled = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	// A missing .env is normal
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "Warning: reading .env: %v\n", err)
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(level, modelfetch.WithLogger(logger))
	cmd.SetArgs(args)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		return exitCodeFromError(err)
	}
	return ExitSuccess
}

// newRootCommand wraps the library command tree as the modelfetch binary.
// --verbose lowers the log level to debug.
func newRootCommand(level *slog.LevelVar, opts ...modelfetch.ManagerOption) *cobra.Command {
	cmd := modelfetch.NewCommand(modelfetch.Config{}, opts...)
	cmd.Use = "modelfetch"

	pre := cmd.PersistentPreRunE
	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		if verbose, _ := c.Flags().GetBool("verbose"); verbose {
			level.Set(slog.LevelDebug)
		}
		return pre(c, args)
	}
	return cmd
}

// exitCodeFromError maps error types to exit codes.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, modelfetch.ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, modelfetch.ErrModelNotFound):
		return ExitModelNotFound
	case errors.Is(err, modelfetch.ErrAlreadyExists):
		return ExitAlreadyExists
	case errors.Is(err, modelfetch.ErrCatalogUnreachable),
		errors.Is(err, modelfetch.ErrSourceNotFound),
		errors.Is(err, modelfetch.ErrTransferInterrupted):
		return ExitNetworkError
	case errors.Is(err, modelfetch.ErrSizeMismatch), errors.Is(err, modelfetch.ErrChecksumMismatch):
		return ExitVerifyFailed
	case errors.Is(err, modelfetch.ErrStorageError):
		return ExitStorageError
	case errors.Is(err, modelfetch.ErrInvalidOptions):
		return ExitInvalidArgs
	default:
		return ExitGeneralError
	}
}
