package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// Catalog refreshes a ModelRegistry from a remote model listing. Fetches are
// deduplicated with singleflight and the last good payload is cached on disk
// so a restart does not depend on the remote being reachable.
type Catalog struct {
	registry  *ModelRegistry
	url       string
	ttl       time.Duration
	cacheFile string
	client    *http.Client

	group singleflight.Group

	mutex       sync.Mutex
	lastFetched time.Time
}

// NewCatalog builds a catalog for the given registry. url may be empty, in
// which case Refresh is a no-op and the registry keeps its seeded models.
func NewCatalog(registry *ModelRegistry, url string, ttl time.Duration, cacheFile string) *Catalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Catalog{
		registry:  registry,
		url:       url,
		ttl:       ttl,
		cacheFile: cacheFile,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadCache seeds the registry from the on-disk cache file if one exists.
func (c *Catalog) LoadCache() error {
	if c.cacheFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.cacheFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read catalog cache: %w", err)
	}
	models, err := parseCatalog(data)
	if err != nil {
		return fmt.Errorf("parse catalog cache: %w", err)
	}
	if len(models) > 0 {
		c.registry.Replace(models)
		log.Debugf("loaded %d models from catalog cache", len(models))
	}
	return nil
}

// Refresh fetches the remote catalog if the TTL has elapsed. Concurrent
// callers share a single in-flight fetch. Returns the number of models now
// registered.
func (c *Catalog) Refresh(ctx context.Context) (int, error) {
	if c.url == "" {
		return c.registry.Len(), nil
	}
	c.mutex.Lock()
	fresh := time.Since(c.lastFetched) < c.ttl
	c.mutex.Unlock()
	if fresh {
		return c.registry.Len(), nil
	}

	_, err, _ := c.group.Do("catalog", func() (interface{}, error) {
		return nil, c.fetch(ctx)
	})
	if err != nil {
		return c.registry.Len(), err
	}
	return c.registry.Len(), nil
}

// Run refreshes the catalog on a ticker until the context is canceled.
func (c *Catalog) Run(ctx context.Context) {
	if c.url == "" {
		return
	}
	if _, err := c.Refresh(ctx); err != nil {
		log.Warnf("initial catalog refresh failed: %v", err)
	}
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil {
				log.Warnf("catalog refresh failed: %v", err)
			}
		}
	}
}

func (c *Catalog) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch catalog: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read catalog response: %w", err)
	}

	models, err := parseCatalog(body)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return fmt.Errorf("catalog returned no models")
	}

	c.registry.Replace(models)
	c.mutex.Lock()
	c.lastFetched = time.Now()
	c.mutex.Unlock()
	log.Infof("catalog refreshed, %d models registered", len(models))

	c.persist(body)
	return nil
}

func (c *Catalog) persist(payload []byte) {
	if c.cacheFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.cacheFile), 0o755); err != nil {
		log.Warnf("create catalog cache dir: %v", err)
		return
	}
	tmp := c.cacheFile + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		log.Warnf("write catalog cache: %v", err)
		return
	}
	if err := os.Rename(tmp, c.cacheFile); err != nil {
		log.Warnf("replace catalog cache: %v", err)
	}
}

// parseCatalog accepts either an OpenAI style listing with a "data" array or
// a bare JSON array of model objects.
func parseCatalog(payload []byte) ([]*ModelInfo, error) {
	root := gjson.ParseBytes(payload)
	items := root.Get("data")
	if !items.Exists() && root.IsArray() {
		items = root
	}
	if !items.IsArray() {
		return nil, fmt.Errorf("catalog payload has no model array")
	}
	var models []*ModelInfo
	for _, item := range items.Array() {
		var m ModelInfo
		if err := json.Unmarshal([]byte(item.Raw), &m); err != nil {
			continue
		}
		if m.ID == "" {
			continue
		}
		models = append(models, &m)
	}
	return models, nil
}
