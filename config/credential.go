package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"CalmFM/logger"

	"github.com/fsnotify/fsnotify"
)

// ProviderCredential holds the music provider API key. When the key comes from
// a file (for example a mounted secret) the file is watched and re-read on change.
type ProviderCredential struct {
	mu      sync.RWMutex
	key     string
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewProviderCredential returns a credential fixed to key, or backed by path
// when path is non-empty.
func NewProviderCredential(key, path string) (*ProviderCredential, error) {
	c := &ProviderCredential{key: strings.TrimSpace(key), path: path, done: make(chan struct{})}
	if path == "" {
		return c, nil
	}

	if err := c.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential watcher: %w", err)
	}
	// Watch the directory: secret mounts replace the file through a symlink swap.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	c.watcher = watcher

	go c.watch()
	return c, nil
}

// APIKey returns the current key. Empty means no provider is configured.
func (c *ProviderCredential) APIKey() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// Close stops watching the key file.
func (c *ProviderCredential) Close() error {
	if c == nil || c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}

func (c *ProviderCredential) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.set("")
			return nil
		}
		return fmt.Errorf("failed to read provider key file %s: %w", c.path, err)
	}
	c.set(strings.TrimSpace(string(data)))
	return nil
}

func (c *ProviderCredential) set(key string) {
	c.mu.Lock()
	changed := c.key != key
	c.key = key
	c.mu.Unlock()

	if changed {
		logger.Info("provider credential updated",
			logger.String("path", c.path),
			logger.Bool("configured", key != ""))
	}
}

func (c *ProviderCredential) watch() {
	target := filepath.Clean(c.path)
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			// A symlink swap surfaces as a Create on a sibling entry.
			if filepath.Clean(event.Name) != target && event.Op&fsnotify.Create == 0 {
				continue
			}
			if err := c.reload(); err != nil {
				logger.Warn("failed to reload provider credential", logger.ErrorField(err))
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("provider credential watcher error", logger.ErrorField(err))
		}
	}
}
