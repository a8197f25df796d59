// Package cache implements the filesystem result cache for rendered
// screenshots. Entries never expire and the cache has no size bound; the
// canonical key derivation makes entries survive process restarts.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/snapshot"
)

// stagingDir holds in-progress renders. It lives under the cache root so the
// final os.Rename stays on one filesystem and is atomic.
const stagingDir = "incoming"

// Cache stores one image artifact per canonical URL key.
type Cache struct {
	dir    string
	logger *zap.Logger
}

// New prepares the cache directory and its staging area.
func New(dir string, logger *zap.Logger) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("cache path %q is not a directory", dir)
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create cache directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat cache directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, stagingDir), 0o750); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	return &Cache{dir: dir, logger: logger}, nil
}

// Lookup reports whether an artifact exists for the URL. It has no side
// effects.
func (c *Cache) Lookup(url string) (string, bool) {
	path := c.path(url)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// Store moves a temporary artifact into the canonical location for the URL.
// The rename is atomic on one filesystem, so a partially-written file is
// never visible at the canonical path. Concurrent writers for the same key
// are last-writer-wins.
func (c *Cache) Store(url, tempPath string) (string, error) {
	path := c.path(url)
	if err := os.Rename(tempPath, path); err != nil {
		return "", fmt.Errorf("move artifact into cache: %w", err)
	}
	c.logger.Debug("artifact cached", zap.String("url", url), zap.String("path", path))
	return path, nil
}

// StagingDir returns the directory renderers should write temporary
// artifacts to so that Store can relocate them atomically.
func (c *Cache) StagingDir() string {
	return filepath.Join(c.dir, stagingDir)
}

func (c *Cache) path(url string) string {
	return filepath.Join(c.dir, snapshot.CacheKey(url))
}
