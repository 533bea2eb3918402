package modelfetch

import (
	"context"
	"fmt"
)

// manager is the concrete implementation of the Manager interface.
type manager struct {
	// cfg holds the defaults for every download.
	cfg Config

	// logger receives diagnostic messages. Never nil.
	logger Logger

	// opener reads catalogs and artifacts.
	opener *opener

	// catalog resolves and caches listings.
	catalog *catalogClient
}

// Download validates the request and starts a Controller.
func (m *manager) Download(ctx context.Context, model string, opts DownloadOptions) (*Controller, error) {
	if err := validateModelID(model); err != nil {
		return nil, err
	}

	catalogURL, st, err := m.prepare(opts)
	if err != nil {
		return nil, err
	}

	c := newController(model, catalogURL, opts, st, m.catalog, m.opener, m.logger)
	c.start(ctx)
	return c, nil
}

// ListModels returns every catalog entry as string key/value pairs.
func (m *manager) ListModels(ctx context.Context) ([]map[string]string, error) {
	return m.catalog.list(ctx, m.cfg.CatalogURL)
}

// Resolve returns the catalog descriptor for model.
func (m *manager) Resolve(ctx context.Context, model string) (ModelDescriptor, error) {
	if err := validateModelID(model); err != nil {
		return ModelDescriptor{}, err
	}
	return m.catalog.resolve(ctx, m.cfg.CatalogURL, model)
}

// Verify checks an installed model file against its catalog entry.
func (m *manager) Verify(ctx context.Context, model string, opts DownloadOptions) (string, error) {
	if err := validateModelID(model); err != nil {
		return "", err
	}

	catalogURL, st, err := m.prepare(opts)
	if err != nil {
		return "", err
	}

	desc, err := m.catalog.resolve(ctx, catalogURL, model)
	if err != nil {
		return "", err
	}

	path := st.destinationPath(desc.Filename)
	if err := verifyFile(ctx, path, desc); err != nil {
		return path, err
	}

	m.logger.Debug("verified installed model", "model", model, "path", path, "method", verifyMethod(desc))
	return path, nil
}

// prepare applies manager defaults to opts and validates the result.
func (m *manager) prepare(opts DownloadOptions) (string, *storage, error) {
	catalogURL := opts.URL
	if catalogURL == "" {
		catalogURL = m.cfg.CatalogURL
	}
	if _, err := checkURL(catalogURL); err != nil {
		return "", nil, err
	}

	location := opts.Location
	if location == "" {
		location = m.cfg.Location
	}
	st, err := newStorage(location)
	if err != nil {
		return "", nil, fmt.Errorf("preparing destination: %w", err)
	}

	return catalogURL, st, nil
}
