package enrich

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FeedCache serves the entries of a line-oriented threat feed file. The
// parsed set is cached and invalidated when the file changes, either via an
// fsnotify watch on the parent directory or an mtime check on access.
// Missing or unreadable files yield an empty set.
type FeedCache struct {
	path      string
	lowercase bool
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]struct{}
	modTime time.Time
	loaded  bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFeedCache starts a cache for the feed at path. Domain feeds set
// lowercase so matching stays case-insensitive; IP feeds do not.
func NewFeedCache(path string, lowercase bool, logger *slog.Logger) *FeedCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &FeedCache{
		path:      path,
		lowercase: lowercase,
		logger:    logger,
		done:      make(chan struct{}),
	}

	// The file itself may not exist yet, so watch its directory.
	w, err := fsnotify.NewWatcher()
	if err == nil {
		if err := w.Add(filepath.Dir(path)); err != nil {
			logger.Warn("feed watch failed, falling back to mtime checks",
				"path", path, "error", err)
			w.Close()
		} else {
			c.watcher = w
			go c.watch()
		}
	}

	return c
}

func (c *FeedCache) watch() {
	base := filepath.Base(c.path)
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.invalidate()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("feed watcher error", "path", c.path, "error", err)
		case <-c.done:
			return
		}
	}
}

func (c *FeedCache) invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// Contains reports whether the feed lists the value.
func (c *FeedCache) Contains(v string) bool {
	if c.lowercase {
		v = strings.ToLower(v)
	}
	_, ok := c.Entries()[v]
	return ok
}

// Entries returns the current feed set, reloading if the file changed.
func (c *FeedCache) Entries() map[string]struct{} {
	c.mu.RLock()
	if c.loaded && !c.stale() {
		entries := c.entries
		c.mu.RUnlock()
		return entries
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded || c.stale() {
		c.entries = c.parse()
		c.loaded = true
	}
	return c.entries
}

// stale compares the file mtime against the cached one. Callers hold at
// least the read lock.
func (c *FeedCache) stale() bool {
	fi, err := os.Stat(c.path)
	if err != nil {
		return !c.modTime.IsZero()
	}
	return !fi.ModTime().Equal(c.modTime)
}

func (c *FeedCache) parse() map[string]struct{} {
	out := make(map[string]struct{})

	fi, err := os.Stat(c.path)
	if err != nil {
		c.modTime = time.Time{}
		return out
	}
	c.modTime = fi.ModTime()

	f, err := os.Open(c.path)
	if err != nil {
		return out
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if c.lowercase {
			line = strings.ToLower(line)
		}
		out[line] = struct{}{}
	}
	return out
}

// Close stops the background watcher.
func (c *FeedCache) Close() error {
	close(c.done)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
