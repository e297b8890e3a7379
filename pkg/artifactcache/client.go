package artifactcache

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/filecollector"
)

const (
	compressionMethod = "gzip"
	versionSalt       = "1.0"
	apiVersion        = "6.0-preview.1"

	maxKeyLength  = 512
	maxKeys       = 10
	maxCacheSize  = 10 * 1024 * 1024 * 1024
	uploadChunkSz = 32 * 1024 * 1024
)

// ValidationError reports unusable keys or paths.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ReserveCacheError is returned when the server refuses to reserve a key,
// usually because another job is already creating it.
type ReserveCacheError struct {
	Message string
}

func (e *ReserveCacheError) Error() string {
	return e.Message
}

// Client saves and restores directories against an actions/cache server.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	// TempDir holds archives while they are uploaded or downloaded.
	TempDir string
}

// NewClient returns a client for the cache server at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    http.DefaultClient,
	}
}

// NewClientFromEnv returns a client configured by ACTIONS_CACHE_URL and ACTIONS_RUNTIME_TOKEN.
func NewClientFromEnv() *Client {
	return NewClient(os.Getenv("ACTIONS_CACHE_URL"), os.Getenv("ACTIONS_RUNTIME_TOKEN"))
}

// IsAvailable reports whether a cache server is configured.
func (c *Client) IsAvailable() bool {
	return c != nil && c.BaseURL != ""
}

// Version derives the cache version from the cached paths, so entries are
// only restored into the same set of paths they were saved from.
func Version(paths []string) string {
	components := append([]string{}, paths...)
	components = append(components, compressionMethod)
	if runtime.GOOS == "windows" {
		components = append(components, "windows-only")
	}
	components = append(components, versionSalt)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(components, "|"))))
}

func checkPaths(paths []string) error {
	if len(paths) == 0 {
		return &ValidationError{"Path Validation Error: At least one directory or file path is required"}
	}
	return nil
}

func checkKey(key string) error {
	if len(key) > maxKeyLength {
		return &ValidationError{fmt.Sprintf("Key Validation Error: %s cannot be larger than %d characters.", key, maxKeyLength)}
	}
	if strings.Contains(key, ",") {
		return &ValidationError{fmt.Sprintf("Key Validation Error: %s cannot contain commas.", key)}
	}
	return nil
}

// Save archives paths and uploads them under key. A key that is already
// being created by someone else is logged and skipped.
func (c *Client) Save(ctx context.Context, paths []string, key string) error {
	return common.NewPipelineExecutor(
		func(ctx context.Context) error {
			_, err := c.SaveCache(ctx, paths, key)
			var reserveErr *ReserveCacheError
			if errors.As(err, &reserveErr) {
				return common.Warningf("Failed to save: %s", reserveErr.Message)
			}
			return err
		},
		common.NewDebugExecutor("Cache save of %s done", key),
	)(ctx)
}

// SaveCache archives paths and uploads them under key, returning the cache id.
func (c *Client) SaveCache(ctx context.Context, paths []string, key string) (uint64, error) {
	logger := common.Logger(ctx)
	if err := checkPaths(paths); err != nil {
		return 0, err
	}
	if err := checkKey(key); err != nil {
		return 0, err
	}

	archive, err := c.createArchive(ctx, paths)
	if err != nil {
		return 0, err
	}
	defer os.Remove(archive)

	fi, err := os.Stat(archive)
	if err != nil {
		return 0, err
	}
	size := fi.Size()
	logger.Debugf("Archive Path: %s", archive)
	logger.Infof("Cache Size: ~%s (%d B)", humanize.Bytes(uint64(size)), size)
	if size > maxCacheSize {
		return 0, fmt.Errorf("Cache size of ~%d MB (%d B) is over the 10GB limit, not saving cache.", size/(1024*1024), size)
	}

	logger.Debugf("Reserving Cache")
	id, err := c.reserve(ctx, key, Version(paths), size)
	if err != nil {
		return 0, err
	}
	logger.Debugf("Cache ID: %d", id)

	if err := c.uploadArchive(ctx, id, archive, size); err != nil {
		return 0, err
	}

	logger.Debugf("Commiting cache")
	if err := c.commit(ctx, id, size); err != nil {
		return 0, err
	}
	logger.Infof("Cache saved with key: %s", key)
	return id, nil
}

// Restore downloads the entry saved under key into paths and reports a hit.
func (c *Client) Restore(ctx context.Context, paths []string, key string) (bool, error) {
	matched, err := c.RestoreCache(ctx, paths, key)
	return matched != "", err
}

// RestoreCache restores the entry matching key, or the newest entry
// prefixed by one of restoreKeys, into paths. It returns the matched key, ""
// on a miss.
func (c *Client) RestoreCache(ctx context.Context, paths []string, key string, restoreKeys ...string) (string, error) {
	logger := common.Logger(ctx)
	if err := checkPaths(paths); err != nil {
		return "", err
	}
	keys := append([]string{key}, restoreKeys...)
	logger.Debugf("Resolved Keys: %v", keys)
	if len(keys) > maxKeys {
		return "", &ValidationError{fmt.Sprintf("Key Validation Error: Keys are limited to a maximum of %d.", maxKeys)}
	}
	for _, k := range keys {
		if err := checkKey(k); err != nil {
			return "", err
		}
	}

	entry, err := c.getCacheEntry(ctx, keys, Version(paths))
	if err != nil {
		return "", err
	}
	if entry == nil || entry.ArchiveLocation == "" {
		logger.Debugf("Cache not found for keys: %s", strings.Join(keys, ", "))
		return "", nil
	}

	archive, err := c.download(ctx, entry.ArchiveLocation)
	if err != nil {
		return "", err
	}
	defer os.Remove(archive)

	if err := c.extractArchive(ctx, archive, paths); err != nil {
		return "", err
	}
	logger.Infof("Cache restored from key: %s", entry.CacheKey)
	return entry.CacheKey, nil
}

func (c *Client) resourceURL(resource string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + urlBase + "/" + resource
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json;api-version="+apiVersion)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, u, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, responseError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func responseError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil {
		if body.Message != "" {
			msg = body.Message
		} else if body.Error != "" {
			msg = body.Error
		}
	}
	return fmt.Errorf("Cache service responded with %d: %s", resp.StatusCode, msg)
}

func (c *Client) getCacheEntry(ctx context.Context, keys []string, version string) (*Entry, error) {
	q := url.Values{}
	q.Set("keys", strings.Join(keys, ","))
	q.Set("version", version)
	entry := &Entry{}
	code, err := c.doJSON(ctx, http.MethodGet, c.resourceURL("cache?"+q.Encode()), nil, entry)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNoContent {
		return nil, nil
	}
	return entry, nil
}

func (c *Client) reserve(ctx context.Context, key, version string, size int64) (uint64, error) {
	res := &ReserveResponse{}
	code, err := c.doJSON(ctx, http.MethodPost, c.resourceURL("caches"), &Request{
		Key:     key,
		Version: version,
		Size:    size,
	}, res)
	if err != nil && code != http.StatusConflict {
		return 0, err
	}
	if code == http.StatusConflict || res.CacheID == 0 {
		msg := fmt.Sprintf("Unable to reserve cache with key %s, another job may be creating this cache.", key)
		if err != nil {
			msg += " More details: " + err.Error()
		}
		return 0, &ReserveCacheError{msg}
	}
	return res.CacheID, nil
}

func (c *Client) uploadArchive(ctx context.Context, id uint64, archive string, size int64) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	u := c.resourceURL("caches/" + strconv.FormatUint(id, 10))
	for start := int64(0); start < size; start += uploadChunkSz {
		end := min(start+uploadChunkSz, size) - 1
		common.Logger(ctx).Debugf("Uploading chunk of size %d bytes at offset %d with content range: bytes %d-%d/*", end-start+1, start, start, end)
		req, err := c.newRequest(ctx, http.MethodPatch, u, io.NewSectionReader(f, start, end-start+1))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", start, end))
		req.ContentLength = end - start + 1
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err = responseError(resp)
			resp.Body.Close()
			return fmt.Errorf("Cache service responded with %d during upload chunk: %w", resp.StatusCode, err)
		}
		resp.Body.Close()
	}
	return nil
}

func (c *Client) commit(ctx context.Context, id uint64, size int64) error {
	_, err := c.doJSON(ctx, http.MethodPost, c.resourceURL("caches/"+strconv.FormatUint(id, 10)), &CommitRequest{Size: size}, nil)
	if err != nil {
		return fmt.Errorf("Cache service responded with an error during commit: %w", err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected HTTP response from cache download: %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(c.tempDir(), "cache-*.tgz")
	if err != nil {
		return "", err
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("incomplete download. Expected file size: %d, actual file size: %d", resp.ContentLength, n)
	}
	common.Logger(ctx).Infof("Cache Size: ~%s (%d B)", humanize.Bytes(uint64(n)), n)
	return f.Name(), nil
}

func (c *Client) tempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return common.LookupDefaultEnv("RUNNER_TEMP")
}

// createArchive writes a gzipped tar holding every path below its index in
// paths: a directory's content below "<i>/", a single file as "<i>".
func (c *Client) createArchive(ctx context.Context, paths []string) (string, error) {
	f, err := os.CreateTemp(c.tempDir(), "cache-*.tgz")
	if err != nil {
		return "", err
	}
	name := f.Name()

	err = func() error {
		defer f.Close()
		gw := gzip.NewWriter(f)
		tw := tar.NewWriter(gw)
		for i, p := range paths {
			p, err := filepath.Abs(p)
			if err != nil {
				return err
			}
			fi, err := os.Stat(p)
			if err != nil {
				return err
			}
			tc := &filecollector.TarCollector{TarWriter: tw, DstDir: strconv.Itoa(i)}
			if fi.IsDir() {
				if err := filecollector.Collect(ctx, p, tc); err != nil {
					return err
				}
				continue
			}
			src, err := os.Open(p)
			if err != nil {
				return err
			}
			err = tc.WriteFile("", fi, "", src)
			src.Close()
			if err != nil {
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return err
		}
		return gw.Close()
	}()
	if err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

func (c *Client) extractArchive(ctx context.Context, archive string, paths []string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	staging, err := os.MkdirTemp(c.tempDir(), "cache-restore-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := filecollector.Untar(ctx, gr, staging); err != nil {
		return err
	}

	for i, p := range paths {
		p, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		src := filepath.Join(staging, strconv.Itoa(i))
		fi, err := os.Stat(src)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return err
		}
		if fi.IsDir() {
			if err := filecollector.Collect(ctx, src, &filecollector.CopyCollector{DstDir: p}); err != nil {
				return err
			}
			continue
		}
		r, err := os.Open(src)
		if err != nil {
			return err
		}
		cc := &filecollector.CopyCollector{DstDir: filepath.Dir(p)}
		err = cc.WriteFile(filepath.Base(p), fi, "", r)
		r.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
