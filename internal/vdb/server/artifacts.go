package server

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/deploy"
)

// artifactCache caches published-artifact info for status queries and
// invalidates it when the published directory changes on disk. Publication is
// a directory rename in the published dir's parent, so watching the parent
// catches every swap, including ones performed by a separate build process.
type artifactCache struct {
	publishedDir string

	mu    sync.Mutex
	info  *deploy.Info
	valid bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newArtifactCache(publishedDir string) *artifactCache {
	c := &artifactCache{
		publishedDir: publishedDir,
		done:         make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("Failed to create artifact watcher, status queries will stat every time: %v", err)
		return c
	}
	parent := filepath.Dir(publishedDir)
	if err := watcher.Add(parent); err != nil {
		log.Debug("artifact watcher could not watch %s: %v", parent, err)
		_ = watcher.Close()
		return c
	}

	c.watcher = watcher
	go c.watch()
	return c
}

// Get returns current artifact info, refreshing from disk when invalidated.
func (c *artifactCache) Get() *deploy.Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watcher == nil || !c.valid {
		c.info = deploy.CollectInfo(c.publishedDir)
		c.valid = c.watcher != nil
	}
	return c.info
}

// Invalidate forces the next Get to re-read the published directory.
func (c *artifactCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Close stops the watcher goroutine.
func (c *artifactCache) Close() {
	close(c.done)
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
}

func (c *artifactCache) watch() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == filepath.Clean(c.publishedDir) {
				log.Debug("published directory changed (%s), refreshing artifact info", event.Op)
				c.Invalidate()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Debug("artifact watcher error: %v", err)
			c.Invalidate()
		}
	}
}
