package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/pkg/log"
)

// Catalog is an in-memory route lookup loaded from a JSON object.
type Catalog struct {
	store  ObjectStore
	key    string
	clock  clock.WithTicker
	logger log.Logger

	mu     sync.RWMutex
	routes map[string]model.Route
}

var _ core.RouteLookup = (*Catalog)(nil)

// NewCatalog returns an empty catalog backed by store. A nil store keeps the
// catalog empty and makes Load a no-op.
func NewCatalog(store ObjectStore, key string, clk clock.WithTicker) *Catalog {
	return &Catalog{
		store:  store,
		key:    key,
		clock:  clk,
		logger: log.WithName("routes"),
		routes: map[string]model.Route{},
	}
}

// Route returns the display fields of routeID.
func (c *Catalog) Route(routeID string) (model.Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[routeID]
	return r, ok
}

// Len returns the number of cached routes.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}

// Load fetches and replaces the catalog. On failure the previous catalog is kept.
func (c *Catalog) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	rc, err := c.store.GetObject(ctx, c.key)
	if err != nil {
		return err
	}
	defer rc.Close()

	routes, err := Parse(rc)
	if err != nil {
		return fmt.Errorf("route catalog %s: %w", c.key, err)
	}

	c.mu.Lock()
	c.routes = routes
	c.mu.Unlock()

	c.logger.Info("Route catalog loaded", "key", c.key, "routes", len(routes))
	return nil
}

// Run reloads the catalog every interval until ctx ends. A non-positive
// interval disables reloading.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) error {
	if c.store == nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := c.Load(ctx); err != nil {
				c.logger.Error(err, "Failed to reload route catalog, keeping previous")
			}
		}
	}
}

type catalogDocument struct {
	Routes []model.Route `json:"routes"`
}

// Parse decodes a catalog document. Both {"routes": [...]} and a bare array are
// accepted. Entries without an id are skipped.
func Parse(r io.Reader) (map[string]model.Route, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var list []model.Route
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &list)
	} else {
		var doc catalogDocument
		err = json.Unmarshal(data, &doc)
		list = doc.Routes
	}
	if err != nil {
		return nil, fmt.Errorf("malformed route catalog: %w", err)
	}

	routes := make(map[string]model.Route, len(list))
	for _, r := range list {
		if r.ID == "" {
			continue
		}
		routes[r.ID] = r
	}
	return routes, nil
}
