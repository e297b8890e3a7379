// Package cache keeps a single build output in a two-tier cache: the hosted
// tool cache of the machine and an optional remote cache shared between
// machines. Remote uploads can be deferred to the post phase of the job.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nektos/actions-toolkit/pkg/artifactcache"
	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/filecollector"
	"github.com/nektos/actions-toolkit/pkg/state"
	"github.com/nektos/actions-toolkit/pkg/toolcache"
)

// PostStateKey is the job state key holding the deferred remote save.
const PostStateKey = "postCache"

// Opts describes one cacheable file.
type Opts struct {
	// Name and Version of the tool in the hosted tool cache.
	Name    string
	Version string
	// BaseDir holds the local copies, one directory per version and platform.
	BaseDir string
	// CacheFile is the file name inside the local cache directory.
	CacheFile string
	// NoRemoteCache disables the remote cache.
	NoRemoteCache bool
}

// PostState is the remote save handed from the main to the post phase.
type PostState struct {
	Dir string `json:"dir"`
	Key string `json:"key"`
}

// Registry is the hosted tool cache. Entries are keyed by the exact
// version string, the same way the remote cache key is.
type Registry interface {
	CacheVersion(ctx context.Context, sourceDir, tool, version, arch string) (string, error)
	FindVersion(ctx context.Context, tool, version, arch string) (string, error)
}

// RemoteCache is a cache shared between machines.
type RemoteCache interface {
	IsAvailable() bool
	Save(ctx context.Context, paths []string, key string) error
	Restore(ctx context.Context, paths []string, key string) (bool, error)
}

// Cache stores the file described by Opts.
type Cache struct {
	opts     Opts
	registry Registry
	remote   RemoteCache
	state    state.Store
	platform string
	key      string
	dir      string
	path     string
}

// Option overrides one of the collaborators of a Cache.
type Option func(*Cache)

// WithRegistry replaces the runner's hosted tool cache.
func WithRegistry(r Registry) Option {
	return func(c *Cache) {
		c.registry = r
	}
}

// WithRemoteCache replaces the actions cache service client.
func WithRemoteCache(r RemoteCache) Option {
	return func(c *Cache) {
		c.remote = r
	}
}

// WithStateStore replaces the job state file.
func WithStateStore(s state.Store) Option {
	return func(c *Cache) {
		c.state = s
	}
}

// New creates the local cache directory of opts. Without options the cache
// uses the runner's hosted tool cache, the actions cache service and the
// job state file.
func New(opts Opts, options ...Option) (*Cache, error) {
	c := &Cache{
		opts:     opts,
		platform: Platform(),
	}
	for _, o := range options {
		o(c)
	}
	if c.registry == nil {
		c.registry = toolcache.New("")
	}
	if c.remote == nil {
		c.remote = artifactcache.NewClientFromEnv()
	}
	if c.state == nil {
		c.state = &state.FileStore{}
	}

	c.key = fmt.Sprintf("%s-%s-%s", opts.Name, opts.Version, c.platform)
	c.dir = filepath.Join(opts.BaseDir, opts.Version, c.platform)
	c.path = filepath.Join(c.dir, opts.CacheFile)
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, err
	}
	return c, nil
}

// Key is the remote cache key, name-version-platform.
func (c *Cache) Key() string {
	return c.key
}

// Dir is the local cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path is the cached file inside Dir.
func (c *Cache) Path() string {
	return c.path
}

// Save copies file into the local cache directory and registers it in the
// hosted tool cache. When the remote cache is usable the directory is
// uploaded, or with deferRemote recorded for Post instead.
func (c *Cache) Save(ctx context.Context, file string, deferRemote bool) (string, error) {
	logger := common.Logger(ctx)
	logger.Debugf("Cache.save %s", file)

	cachePath, err := c.copyToCache(ctx, file)
	if err != nil {
		return "", err
	}

	htcPath, err := c.registry.CacheVersion(ctx, c.dir, c.opts.Name, c.opts.Version, c.platform)
	if err != nil {
		return "", err
	}
	logger.Debugf("Cache.save cached to hosted tool cache %s", htcPath)

	if !c.remoteEnabled(ctx) {
		return cachePath, nil
	}

	if deferRemote {
		logger.Debugf("Cache.save sending %s to post state", c.key)
		b, err := json.Marshal(&PostState{Dir: c.dir, Key: c.key})
		if err != nil {
			return "", err
		}
		if err := c.state.SaveState(ctx, PostStateKey, string(b)); err != nil {
			return "", err
		}
		return cachePath, nil
	}

	logger.Debugf("Cache.save caching %s to remote cache", c.key)
	if err := c.remote.Save(ctx, []string{c.dir}, c.key); err != nil {
		return "", err
	}
	return cachePath, nil
}

// Find returns the path of the cached file, or "" when neither cache has it.
func (c *Cache) Find(ctx context.Context) (string, error) {
	logger := common.Logger(ctx)

	htcPath, err := c.registry.FindVersion(ctx, c.opts.Name, c.opts.Version, c.platform)
	if err != nil {
		return "", err
	}
	if htcPath != "" {
		logger.Infof("Restored from hosted tool cache %s", htcPath)
		return c.copyToCache(ctx, filepath.Join(htcPath, c.opts.CacheFile))
	}

	if !c.remoteEnabled(ctx) {
		return "", nil
	}

	hit, err := c.remote.Restore(ctx, []string{c.dir}, c.key)
	if err != nil {
		return "", err
	}
	if !hit {
		return "", nil
	}
	logger.Infof("Restored %s from remote cache", c.key)

	htcPath, err = c.registry.CacheVersion(ctx, c.dir, c.opts.Name, c.opts.Version, c.platform)
	if err != nil {
		return "", err
	}
	logger.Infof("Cached to hosted tool cache %s", htcPath)
	return c.copyToCache(ctx, filepath.Join(htcPath, c.opts.CacheFile))
}

func (c *Cache) remoteEnabled(ctx context.Context) bool {
	logger := common.Logger(ctx)
	if c.opts.NoRemoteCache {
		logger.Infof("Remote cache disabled")
		return false
	}
	if c.remote == nil || !c.remote.IsAvailable() {
		logger.Infof("Remote cache feature not available")
		return false
	}
	logger.Debugf("Remote cache feature available")
	return true
}

// copyToCache copies file over the cached file. Copying the cached file onto
// itself is a no-op.
func (c *Cache) copyToCache(ctx context.Context, file string) (string, error) {
	common.Logger(ctx).Debugf("Copying %s to %s", file, c.path)

	fi, err := os.Stat(file)
	if err != nil {
		return "", err
	}
	if dst, err := os.Stat(c.path); err == nil && os.SameFile(fi, dst) {
		return c.path, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cc := &filecollector.CopyCollector{DstDir: c.dir}
	if err := cc.WriteFile(c.opts.CacheFile, fi, "", f); err != nil {
		return "", err
	}
	return c.path, nil
}

// Post uploads the save deferred by Save during the main phase of the job.
// It returns nil when no save was deferred.
func Post(ctx context.Context, remote RemoteCache, store state.Store) (*PostState, error) {
	logger := common.Logger(ctx)

	raw, err := store.GetState(ctx, PostStateKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		logger.Infof("State not set")
		return nil, nil
	}

	ps := &PostState{}
	if err := json.Unmarshal([]byte(raw), ps); err != nil {
		return nil, fmt.Errorf("failed to parse cache post state: %w", err)
	}
	if ps.Dir == "" || ps.Key == "" {
		return nil, fmt.Errorf("invalid cache post state: %s", raw)
	}

	logger.Infof("Caching %s to remote cache", ps.Key)
	if err := remote.Save(ctx, []string{ps.Dir}, ps.Key); err != nil {
		return nil, err
	}
	return ps, nil
}
