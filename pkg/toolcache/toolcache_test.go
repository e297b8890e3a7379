package toolcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTool(t *testing.T, content string) string {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "tool"), []byte(content), 0o755))
	return dir
}

func TestCacheDirAndFind(t *testing.T) {
	ctx := context.Background()
	tc := New(t.TempDir())

	p, err := tc.CacheDir(ctx, writeTool(t, "1.2.3"), "mytool", "v1.2.3+abc", "x64")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tc.Root, "mytool", "1.2.3", "x64"), p)
	assert.FileExists(t, p+".complete")

	found, err := tc.Find(ctx, "mytool", "v1.2.3+abc", "x64")
	require.NoError(t, err)
	assert.Equal(t, p, found)

	b, err := os.ReadFile(filepath.Join(found, "bin", "tool"))
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", string(b))

	found, err = tc.Find(ctx, "mytool", "1.2.3", "arm64")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestCacheVersionIsExact(t *testing.T) {
	ctx := context.Background()
	tc := New(t.TempDir())

	p, err := tc.CacheVersion(ctx, writeTool(t, "abc"), "mytool", "v1.0.0+abc", "x64")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tc.Root, "mytool", "v1.0.0+abc", "x64"), p)

	found, err := tc.FindVersion(ctx, "mytool", "v1.0.0+abc", "x64")
	require.NoError(t, err)
	assert.Equal(t, p, found)

	for _, other := range []string{"v1.0.0+def", "1.0.0", "v1.0.0", "1", "^1.0.0"} {
		found, err := tc.FindVersion(ctx, "mytool", other, "x64")
		require.NoError(t, err)
		assert.Empty(t, found, other)
	}

	_, err = tc.CacheVersion(ctx, writeTool(t, "x"), "mytool", "../escape", "x64")
	assert.Error(t, err)
	_, err = tc.FindVersion(ctx, "mytool", "", "x64")
	assert.Error(t, err)
}

func TestCacheDirIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tc := New(t.TempDir())

	_, err := tc.CacheDir(ctx, writeTool(t, "first"), "mytool", "1.0.0", "x64")
	require.NoError(t, err)
	p, err := tc.CacheDir(ctx, writeTool(t, "second"), "mytool", "1.0.0", "x64")
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(p, "bin", "tool"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))
}

func TestCacheDirNotADirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err := New(t.TempDir()).CacheDir(context.Background(), f, "mytool", "1.0.0", "x64")
	assert.EqualError(t, err, "sourceDir is not a directory")
}

func TestCacheFile(t *testing.T) {
	ctx := context.Background()
	tc := New(t.TempDir())
	src := filepath.Join(t.TempDir(), "download")
	require.NoError(t, os.WriteFile(src, []byte("bin"), 0o755))

	p, err := tc.CacheFile(ctx, src, "tool", "mytool", "2.0.0", "x64")
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(p, "tool"))
	require.NoError(t, err)
	assert.Equal(t, "bin", string(b))
}

func TestFindRange(t *testing.T) {
	ctx := context.Background()
	tc := New(t.TempDir())
	for _, v := range []string{"1.0.0", "1.4.2", "2.0.0"} {
		_, err := tc.CacheDir(ctx, writeTool(t, v), "mytool", v, "x64")
		require.NoError(t, err)
	}
	// incomplete entries are ignored
	require.NoError(t, os.MkdirAll(filepath.Join(tc.Root, "mytool", "1.9.0", "x64"), 0o755))

	versions, err := tc.FindAllVersions(ctx, "mytool", "x64")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.0", "1.4.2", "2.0.0"}, versions)

	found, err := tc.Find(ctx, "mytool", "^1.0.0", "x64")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tc.Root, "mytool", "1.4.2", "x64"), found)

	found, err = tc.Find(ctx, "mytool", ">3", "x64")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindRequiredParameters(t *testing.T) {
	tc := New(t.TempDir())
	_, err := tc.Find(context.Background(), "", "1.0.0", "")
	assert.EqualError(t, err, "toolName parameter is required")
	_, err = tc.Find(context.Background(), "mytool", "", "")
	assert.EqualError(t, err, "versionSpec parameter is required")
}

func TestFindAllVersionsUnknownTool(t *testing.T) {
	versions, err := New(t.TempDir()).FindAllVersions(context.Background(), "nope", "x64")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestClean(t *testing.T) {
	table := map[string]string{
		"v1.0.0+abc":  "1.0.0",
		"=1.2.3":      "1.2.3",
		"1.2.3-rc.1":  "1.2.3-rc.1",
		"1.2":         "1.2",
		"latest":      "latest",
		"linux-amd64": "linux-amd64",
	}
	for in, out := range table {
		assert.Equal(t, out, Clean(in), in)
	}
}

func TestEvaluateVersions(t *testing.T) {
	assert.Equal(t, "1.4.2", EvaluateVersions([]string{"1.0.0", "1.4.2", "2.0.0"}, "~1"))
	assert.Equal(t, "", EvaluateVersions([]string{"1.0.0"}, "not a range !"))
}

func TestNewDefaultsToRunnerToolCache(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RUNNER_TOOL_CACHE", dir)
	assert.Equal(t, dir, New("").Root)
}

func TestFindLiteralVersion(t *testing.T) {
	ctx := context.Background()
	tc := New(t.TempDir())

	p, err := tc.CacheDir(ctx, writeTool(t, "edge"), "mytool", "edge-abc123", "x64")
	require.NoError(t, err)

	found, err := tc.Find(ctx, "mytool", "edge-abc123", "x64")
	require.NoError(t, err)
	assert.Equal(t, p, found)
}
