package modelfetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Manager resolves models against a catalog and downloads them.
// All methods are safe for concurrent use.
// For CLI integration, use NewCommand instead.
type Manager interface {
	// Download starts downloading model and returns its Controller at once.
	// It fails synchronously only with ErrInvalidOptions; every network or
	// filesystem outcome is reported through the Controller.
	// ctx bounds the whole download, not just the call.
	Download(ctx context.Context, model string, opts DownloadOptions) (*Controller, error)

	// ListModels returns every catalog entry as string key/value pairs.
	ListModels(ctx context.Context) ([]map[string]string, error)

	// Resolve returns the catalog descriptor for model.
	// Returns ErrModelNotFound if no entry matches.
	Resolve(ctx context.Context, model string) (ModelDescriptor, error)

	// Verify checks an already downloaded model against its catalog entry.
	// Only opts.Location and opts.URL are used. Returns the verified path.
	Verify(ctx context.Context, model string, opts DownloadOptions) (string, error)
}

// Ensure manager implements Manager interface.
var _ Manager = (*manager)(nil)

// NewManager creates a new Manager with the given configuration.
// Returns ErrInvalidOptions if CatalogURL is set but unusable.
func NewManager(cfg Config, opts ...ManagerOption) (Manager, error) {
	if cfg.CatalogURL == "" {
		cfg.CatalogURL = DefaultCatalogURL
	}
	if _, err := checkURL(cfg.CatalogURL); err != nil {
		return nil, err
	}

	// Apply options
	mcfg := newManagerConfig()
	for _, opt := range opts {
		opt(mcfg)
	}
	logger := mcfg.logger
	if logger == nil {
		logger = nopLogger{}
	}

	op := &opener{httpClient: mcfg.httpClient}

	return &manager{
		cfg:     cfg,
		logger:  logger,
		opener:  op,
		catalog: newCatalogClient(op, logger, mcfg.catalogTimeout),
	}, nil
}

// defaultManager backs the package-level functions. Its catalog cache lives
// as long as the process.
var defaultManager = sync.OnceValues(func() (Manager, error) {
	return NewManager(Config{})
})

// Download starts a download with the default manager.
// See Manager.Download.
func Download(ctx context.Context, model string, opts DownloadOptions) (*Controller, error) {
	m, err := defaultManager()
	if err != nil {
		return nil, err
	}
	return m.Download(ctx, model, opts)
}

// ListModels lists the default catalog.
// See Manager.ListModels.
func ListModels(ctx context.Context) ([]map[string]string, error) {
	m, err := defaultManager()
	if err != nil {
		return nil, err
	}
	return m.ListModels(ctx)
}

// validateModelID rejects identifiers that can never name a catalog file.
func validateModelID(model string) error {
	switch {
	case strings.TrimSpace(model) == "":
		return fmt.Errorf("%w: model identifier is required", ErrInvalidOptions)
	case model == "." || model == ".." || strings.ContainsAny(model, `/\`):
		return fmt.Errorf("%w: model identifier %q looks like a path", ErrInvalidOptions, model)
	}
	return nil
}
