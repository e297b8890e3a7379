package artifactcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timshannon/bolthold"

	"github.com/nektos/actions-toolkit/pkg/common"
)

// cacheAPI drives the handler the way the tool cache client does.
type cacheAPI struct {
	t     *testing.T
	base  string
	token string
}

func newCacheAPI(t *testing.T, h *Handler) *cacheAPI {
	token, err := common.CreateAuthorizationToken(1, 2, 3)
	require.NoError(t, err)
	return &cacheAPI{t: t, base: h.ExternalURL() + urlBase, token: token}
}

func (c *cacheAPI) do(method, path string, body io.Reader, header map[string]string) *http.Response {
	req, err := http.NewRequest(method, c.base+path, body)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *cacheAPI) reserve(key, version string, size int64) uint64 {
	b, err := json.Marshal(&Request{Key: key, Version: version, Size: size})
	require.NoError(c.t, err)
	resp := c.do(http.MethodPost, "/caches", bytes.NewReader(b), map[string]string{"Content-Type": "application/json"})
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	got := &ReserveResponse{}
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(got))
	require.NotZero(c.t, got.CacheID)
	return got.CacheID
}

func (c *cacheAPI) upload(id uint64, offset int, chunk []byte) int {
	resp := c.do(http.MethodPatch, fmt.Sprintf("/caches/%d", id), bytes.NewReader(chunk), map[string]string{
		"Content-Type":  "application/octet-stream",
		"Content-Range": fmt.Sprintf("bytes %d-%d/*", offset, offset+len(chunk)-1),
	})
	return resp.StatusCode
}

func (c *cacheAPI) commit(id uint64) int {
	return c.do(http.MethodPost, fmt.Sprintf("/caches/%d", id), nil, nil).StatusCode
}

func (c *cacheAPI) find(keys, version string) (*Entry, int) {
	q := url.Values{}
	q.Set("keys", keys)
	q.Set("version", version)
	resp := c.do(http.MethodGet, "/cache?"+q.Encode(), nil, nil)
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode
	}
	entry := &Entry{}
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(entry))
	return entry, resp.StatusCode
}

func (c *cacheAPI) save(key, version string, archive []byte) uint64 {
	id := c.reserve(key, version, int64(len(archive)))
	half := len(archive) / 2
	require.Equal(c.t, http.StatusOK, c.upload(id, 0, archive[:half]))
	require.Equal(c.t, http.StatusOK, c.upload(id, half, archive[half:]))
	require.Equal(c.t, http.StatusOK, c.commit(id))
	return id
}

func TestHandlerToolArchiveRoundTrip(t *testing.T) {
	handler := startTestHandler(t)
	api := newCacheAPI(t, handler)

	version := Version([]string{"/opt/hostedtoolcache/node/18.20.4/x64"})
	archive := []byte("node 18.20.4 linux x64 tar.gz payload")

	_, code := api.find("node-18.20.4-linux-x64", version)
	assert.Equal(t, http.StatusNoContent, code)

	api.save("node-18.20.4-linux-x64", version, archive)

	entry, code := api.find("Node-18.20.4-Linux-X64", version)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hit", entry.Result)
	assert.Equal(t, "node-18.20.4-linux-x64", entry.CacheKey)

	resp, err := http.Get(entry.ArchiveLocation) //nolint:gosec
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, archive, got)

	_, code = api.find("node-18.20.4-linux-x64", Version([]string{"/elsewhere"}))
	assert.Equal(t, http.StatusNoContent, code, "paths are part of the version")
}

func TestHandlerExactKeyLookup(t *testing.T) {
	handler := startTestHandler(t)
	api := newCacheAPI(t, handler)
	version := Version([]string{"go"})

	api.save("go-1.22.0-linux-amd64", version, []byte("exact"))
	api.save("go-1.22.0-linux-amd64-rc", version, []byte("newer"))

	entry, code := api.find("go-1.22.0-linux-amd64", version)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "go-1.22.0-linux-amd64", entry.CacheKey)

	entry, code = api.find("go-1.22.0-linux", version)
	require.Equal(t, http.StatusOK, code, "restore keys match by prefix")
	assert.Contains(t, []string{"go-1.22.0-linux-amd64", "go-1.22.0-linux-amd64-rc"}, entry.CacheKey)

	_, code = api.find("go-1.22", Version([]string{"other"}))
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHandlerAuthorization(t *testing.T) {
	handler := startTestHandler(t)
	minted := newCacheAPI(t, handler).token

	for _, tt := range []struct {
		name  string
		token string
		code  int
	}{
		{name: "anonymous", token: "", code: http.StatusNoContent},
		{name: "minted", token: minted, code: http.StatusNoContent},
		{name: "garbage", token: "not-a-jwt", code: http.StatusUnauthorized},
	} {
		t.Run(tt.name, func(t *testing.T) {
			api := &cacheAPI{t: t, base: handler.ExternalURL() + urlBase, token: tt.token}
			_, code := api.find("tool", "v")
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestHandlerCommitSizeMismatch(t *testing.T) {
	handler := startTestHandler(t)
	api := newCacheAPI(t, handler)

	id := api.reserve("truncated", "v", 10)
	require.Equal(t, http.StatusOK, api.upload(id, 0, []byte("12345")))
	assert.Equal(t, http.StatusInternalServerError, api.commit(id))

	_, code := api.find("truncated", "v")
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	handler := startTestHandler(t)
	api := newCacheAPI(t, handler)

	assert.Equal(t, http.StatusBadRequest, api.upload(999, 0, []byte("x")), "not reserved")
	assert.Equal(t, http.StatusBadRequest, api.commit(999), "not reserved")
	assert.Equal(t, http.StatusBadRequest,
		api.do(http.MethodPost, "/caches/abc", nil, nil).StatusCode, "id must be numeric")

	id := api.reserve("ranges", "v", 1)
	resp := api.do(http.MethodPatch, fmt.Sprintf("/caches/%d", id), bytes.NewReader([]byte("x")),
		map[string]string{"Content-Range": "bytes */*"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	done := api.save("complete", "v", []byte("ab"))
	assert.Equal(t, http.StatusBadRequest, api.upload(done, 0, []byte("c")), "already complete")
	assert.Equal(t, http.StatusBadRequest, api.commit(done), "already complete")

	resp = api.do(http.MethodPost, "/caches", bytes.NewReader([]byte("{")), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerMissingArchiveIsMiss(t *testing.T) {
	handler := startTestHandler(t)
	api := newCacheAPI(t, handler)

	id := api.save("gone", "v", []byte("data"))
	handler.storage.Remove(id)

	_, code := api.find("gone", "v")
	assert.Equal(t, http.StatusNoContent, code)

	db, err := handler.openDB()
	require.NoError(t, err)
	defer db.Close()
	assert.ErrorIs(t, db.Get(id, &Cache{}), bolthold.ErrNotFound)
}

func TestHandlerClose(t *testing.T) {
	handler, err := StartHandler(filepath.Join(t.TempDir(), "artifactcache"), "127.0.0.1", 0, nil)
	require.NoError(t, err)
	base := handler.ExternalURL()

	require.NoError(t, handler.Close())
	assert.Nil(t, handler.server)
	assert.Nil(t, handler.listener)
	require.NoError(t, handler.Close())

	_, err = http.Get(base + urlBase + "/cache?keys=a&version=b")
	assert.Error(t, err)
}

func TestHandlerGarbageCollection(t *testing.T) {
	handler := startTestHandler(t)
	now := time.Now()
	ago := func(d time.Duration) int64 { return now.Add(-d).Unix() }

	entries := map[string]struct {
		cache *Cache
		kept  bool
	}{
		"fresh": {
			cache: &Cache{Key: "python-3.12.1", Version: "v", Complete: true, UsedAt: ago(0), CreatedAt: ago(time.Hour)},
			kept:  true,
		},
		"abandoned upload": {
			cache: &Cache{Key: "python-3.11.0", Version: "v", UsedAt: ago(keepTemp + time.Second), CreatedAt: ago(keepTemp + time.Hour)},
		},
		"unused": {
			cache: &Cache{Key: "ruby-3.3.0", Version: "v", Complete: true, UsedAt: ago(keepUnused + time.Second), CreatedAt: ago(keepUnused + time.Hour)},
		},
		"expired": {
			cache: &Cache{Key: "ruby-3.2.0", Version: "v", Complete: true, UsedAt: ago(0), CreatedAt: ago(keepUsed + time.Second)},
		},
		"superseded but in use": {
			cache: &Cache{Key: "python-3.12.1", Version: "v", Complete: true, UsedAt: ago(keepOld - time.Minute), CreatedAt: ago(time.Hour + time.Second)},
			kept:  true,
		},
		"superseded": {
			cache: &Cache{Key: "python-3.12.1", Version: "v", Complete: true, UsedAt: ago(keepOld + time.Second), CreatedAt: ago(time.Hour + time.Second)},
		},
	}

	db, err := handler.openDB()
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, insertCache(db, e.cache))
	}
	require.NoError(t, db.Close())

	handler.gcAt = time.Time{}
	handler.gcCache()

	db, err = handler.openDB()
	require.NoError(t, err)
	defer db.Close()
	for name, e := range entries {
		t.Run(name, func(t *testing.T) {
			err := db.Get(e.cache.ID, &Cache{})
			if e.kept {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, bolthold.ErrNotFound)
			}
		})
	}
}
