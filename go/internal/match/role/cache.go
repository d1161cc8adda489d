package role

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mcdev12/jemima/go/internal/models"
)

// FileCache keeps room role tags in a small JSON file.
type FileCache struct {
	path string
	mu   sync.Mutex
}

func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// DefaultCachePath returns roles.json under the user config directory.
func DefaultCachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "jemima", "roles.json"), nil
}

func (c *FileCache) Lookup(code string) (models.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tags, err := c.load()
	if err != nil {
		return "", false
	}
	r, ok := tags[code]
	return r, ok && r.Valid()
}

func (c *FileCache) Remember(code string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tags, err := c.load()
	if err != nil {
		return err
	}
	tags[code] = role
	data, err := json.MarshalIndent(tags, "", "  ")
	if err != nil {
		return fmt.Errorf("encode role cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create role cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write role cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}

func (c *FileCache) load() (map[string]models.Role, error) {
	tags := make(map[string]models.Role)
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return tags, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read role cache: %w", err)
	}
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("decode role cache: %w", err)
	}
	return tags, nil
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu   sync.Mutex
	tags map[string]models.Role
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{tags: make(map[string]models.Role)}
}

func (c *MemoryCache) Lookup(code string) (models.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.tags[code]
	return r, ok
}

func (c *MemoryCache) Remember(code string, role models.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[code] = role
	return nil
}
