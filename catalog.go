package modelfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// catalogFile is the listing object name under the catalog base URL.
const catalogFile = "models.json"

// catalogEntry is one decoded entry of models.json.
// Values keep their JSON form so that listing can stringify them losslessly.
type catalogEntry map[string]json.RawMessage

// str returns the entry value for key as a string.
// JSON strings are unquoted; other values keep their literal text.
func (e catalogEntry) str(key string) string {
	raw, ok := e[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	raw = bytes.TrimSpace(raw)
	if string(raw) == "null" {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

// strings flattens the entry into string values.
func (e catalogEntry) strings() map[string]string {
	out := make(map[string]string, len(e))
	for k := range e {
		out[k] = e.str(k)
	}
	return out
}

// catalogClient resolves model identifiers against a remote listing.
type catalogClient struct {
	// opener fetches the listing.
	opener *opener

	// logger receives diagnostic messages.
	logger Logger

	// timeout bounds a single listing fetch.
	timeout time.Duration

	// group collapses concurrent fetches of the same listing.
	group singleflight.Group

	// mu protects cache.
	mu sync.RWMutex

	// cache holds parsed listings by normalized base URL.
	cache map[string][]catalogEntry
}

// newCatalogClient creates a catalog client.
func newCatalogClient(op *opener, logger Logger, timeout time.Duration) *catalogClient {
	return &catalogClient{
		opener:  op,
		logger:  logger,
		timeout: timeout,
		cache:   make(map[string][]catalogEntry),
	}
}

// entries returns the listing for baseURL, fetching it at most once per client.
// Failures are not cached.
func (c *catalogClient) entries(ctx context.Context, baseURL string) ([]catalogEntry, error) {
	key := strings.TrimRight(baseURL, "/")

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	// The shared fetch is detached from any single caller's cancellation;
	// each caller still stops waiting when its own ctx is done.
	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		list, err := c.fetch(fetchCtx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = list
		c.mu.Unlock()
		return list, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]catalogEntry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetch downloads and decodes <baseURL>/models.json.
func (c *catalogClient) fetch(ctx context.Context, baseURL string) ([]catalogEntry, error) {
	listURL, err := joinURL(baseURL, catalogFile)
	if err != nil {
		return nil, fmt.Errorf("catalog url %q: %w", baseURL, ErrCatalogUnreachable)
	}

	c.logger.Debug("fetching catalog", "url", listURL)

	body, _, err := c.opener.open(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w: %v", ErrCatalogUnreachable, err)
	}
	defer body.Close()

	var list []catalogEntry
	if err := json.NewDecoder(body).Decode(&list); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w: %v", ErrCatalogUnreachable, err)
	}

	c.logger.Debug("catalog fetched", "url", listURL, "entries", len(list))
	return list, nil
}

// list returns every catalog entry with stringified values.
func (c *catalogClient) list(ctx context.Context, baseURL string) ([]map[string]string, error) {
	entries, err := c.entries(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.strings())
	}
	return out, nil
}

// resolve maps a model identifier to its descriptor.
func (c *catalogClient) resolve(ctx context.Context, baseURL, model string) (ModelDescriptor, error) {
	entries, err := c.entries(ctx, baseURL)
	if err != nil {
		return ModelDescriptor{}, err
	}

	entry, ok := findEntry(entries, model)
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("%q: %w", model, ErrModelNotFound)
	}
	return describe(baseURL, model, entry)
}

// findEntry applies the identifier match order: exact filename, filename
// with a ".bin" suffix added to an extensionless id, then exact name.
func findEntry(entries []catalogEntry, model string) (catalogEntry, bool) {
	for _, e := range entries {
		if e.str("filename") == model {
			return e, true
		}
	}
	if path.Ext(model) == "" {
		withBin := model + ".bin"
		for _, e := range entries {
			if e.str("filename") == withBin {
				return e, true
			}
		}
	}
	for _, e := range entries {
		if name := e.str("name"); name != "" && name == model {
			return e, true
		}
	}
	return nil, false
}

// describe builds a ModelDescriptor from a catalog entry.
func describe(baseURL, model string, e catalogEntry) (ModelDescriptor, error) {
	filename := e.str("filename")
	if err := validateFilename(filename); err != nil {
		return ModelDescriptor{}, fmt.Errorf("entry for %q: %w: %v", model, ErrCatalogUnreachable, err)
	}

	desc := ModelDescriptor{
		ID:       model,
		Name:     e.str("name"),
		Filename: filename,
		URL:      e.str("url"),
	}

	if desc.URL == "" {
		u, err := joinURL(baseURL, filename)
		if err != nil {
			return ModelDescriptor{}, fmt.Errorf("entry for %q: %w: %v", model, ErrCatalogUnreachable, err)
		}
		desc.URL = u
	}
	if _, err := checkURL(desc.URL); err != nil {
		return ModelDescriptor{}, fmt.Errorf("entry for %q: %w: unusable url %q", model, ErrCatalogUnreachable, desc.URL)
	}

	if n, err := strconv.ParseInt(e.str("filesize"), 10, 64); err == nil && n > 0 {
		desc.Size = n
	}

	switch {
	case e.str("sha256sum") != "":
		desc.Checksum = Checksum{Algorithm: "sha256", Value: strings.ToLower(e.str("sha256sum"))}
	case e.str("md5sum") != "":
		desc.Checksum = Checksum{Algorithm: "md5", Value: strings.ToLower(e.str("md5sum"))}
	}

	return desc, nil
}

// validateFilename rejects names that would escape the destination directory.
func validateFilename(name string) error {
	switch {
	case name == "":
		return errors.New("missing filename")
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`):
		return fmt.Errorf("unsafe filename %q", name)
	}
	return nil
}
