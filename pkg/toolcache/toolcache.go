// Package toolcache manages the hosted tool cache, a directory tree indexed
// by tool name, version and architecture that is reused across job runs on
// the same machine.
package toolcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/Masterminds/semver"

	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/filecollector"
)

var strictSemver = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?(?:\+[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*)?$`)

// ToolCache is a hosted tool cache rooted at Root.
type ToolCache struct {
	Root string
}

// New returns the tool cache rooted at root, or at $RUNNER_TOOL_CACHE when root is empty.
func New(root string) *ToolCache {
	if root == "" {
		root = common.LookupDefaultEnv("RUNNER_TOOL_CACHE")
	}
	return &ToolCache{Root: root}
}

// CacheDir copies the content of sourceDir into the cache under
// tool/version/arch and marks the entry complete. An existing entry is
// replaced. Explicit versions are stored cleaned, see Clean.
func (tc *ToolCache) CacheDir(ctx context.Context, sourceDir, tool, version, arch string) (string, error) {
	return tc.cacheDir(ctx, sourceDir, tool, Clean(version), arch)
}

// CacheVersion is CacheDir without version normalisation: version names the
// entry verbatim, build metadata included.
func (tc *ToolCache) CacheVersion(ctx context.Context, sourceDir, tool, version, arch string) (string, error) {
	if err := checkVersionName(version); err != nil {
		return "", err
	}
	return tc.cacheDir(ctx, sourceDir, tool, version, arch)
}

func (tc *ToolCache) cacheDir(ctx context.Context, sourceDir, tool, version, arch string) (string, error) {
	logger := common.Logger(ctx)
	if arch == "" {
		arch = Arch()
	}
	logger.Debugf("Caching tool %s %s %s", tool, version, arch)
	logger.Debugf("source dir: %s", sourceDir)

	fi, err := os.Stat(sourceDir)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("sourceDir is not a directory")
	}

	dest, err := tc.createToolPath(tool, version, arch)
	if err != nil {
		return "", err
	}
	if err := filecollector.Collect(ctx, sourceDir, &filecollector.CopyCollector{DstDir: dest}); err != nil {
		return "", err
	}
	if err := tc.completeToolPath(ctx, tool, version, arch); err != nil {
		return "", err
	}
	return dest, nil
}

// CacheFile copies a single file into the cache under tool/version/arch as targetFile.
func (tc *ToolCache) CacheFile(ctx context.Context, sourceFile, targetFile, tool, version, arch string) (string, error) {
	if arch == "" {
		arch = Arch()
	}
	version = Clean(version)
	common.Logger(ctx).Debugf("Caching tool %s %s %s", tool, version, arch)

	fi, err := os.Stat(sourceFile)
	if err != nil {
		return "", err
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("sourceFile is not a file")
	}

	dest, err := tc.createToolPath(tool, version, arch)
	if err != nil {
		return "", err
	}
	f, err := os.Open(sourceFile)
	if err != nil {
		return "", err
	}
	defer f.Close()
	cc := &filecollector.CopyCollector{DstDir: dest}
	if err := cc.WriteFile(targetFile, fi, "", f); err != nil {
		return "", err
	}
	if err := tc.completeToolPath(ctx, tool, version, arch); err != nil {
		return "", err
	}
	return dest, nil
}

// Find returns the cached directory of tool matching versionSpec, or "" when
// there is none. versionSpec is either an explicit version or a semver range,
// in which case the highest matching cached version wins.
func (tc *ToolCache) Find(ctx context.Context, tool, versionSpec, arch string) (string, error) {
	if tool == "" {
		return "", errors.New("toolName parameter is required")
	}
	if versionSpec == "" {
		return "", errors.New("versionSpec parameter is required")
	}
	if arch == "" {
		arch = Arch()
	}
	logger := common.Logger(ctx)

	if !IsExplicitVersion(versionSpec) {
		// versions that are not semver are cached under their literal name
		literal := filepath.Join(tc.Root, tool, versionSpec, arch)
		if isDir(literal) && exists(literal+".complete") {
			logger.Debugf("Found tool in cache %s %s %s", tool, versionSpec, arch)
			return literal, nil
		}
		versions, err := tc.FindAllVersions(ctx, tool, arch)
		if err != nil {
			return "", err
		}
		versionSpec = EvaluateVersions(versions, versionSpec)
		if versionSpec == "" {
			return "", nil
		}
	}

	cachePath := filepath.Join(tc.Root, tool, Clean(versionSpec), arch)
	logger.Debugf("checking tool cache: %s", cachePath)
	if isDir(cachePath) && exists(cachePath+".complete") {
		logger.Debugf("Found tool in cache %s %s %s", tool, versionSpec, arch)
		return cachePath, nil
	}
	logger.Debugf("not found")
	return "", nil
}

// FindVersion returns the entry cached by CacheVersion under exactly
// version, or "" when there is none. No range matching is done.
func (tc *ToolCache) FindVersion(ctx context.Context, tool, version, arch string) (string, error) {
	if tool == "" {
		return "", errors.New("toolName parameter is required")
	}
	if err := checkVersionName(version); err != nil {
		return "", err
	}
	if arch == "" {
		arch = Arch()
	}
	cachePath := filepath.Join(tc.Root, tool, version, arch)
	common.Logger(ctx).Debugf("checking tool cache: %s", cachePath)
	if isDir(cachePath) && exists(cachePath+".complete") {
		return cachePath, nil
	}
	return "", nil
}

// checkVersionName refuses versions that are not a single path element.
func checkVersionName(version string) error {
	if version == "" {
		return errors.New("version parameter is required")
	}
	if version != filepath.Base(version) || version == "." || version == ".." || strings.ContainsAny(version, `/\`) {
		return fmt.Errorf("invalid version %q", version)
	}
	return nil
}

// FindAllVersions lists the complete cached versions of tool for arch.
func (tc *ToolCache) FindAllVersions(_ context.Context, tool, arch string) ([]string, error) {
	if arch == "" {
		arch = Arch()
	}
	toolPath := filepath.Join(tc.Root, tool)
	entries, err := os.ReadDir(toolPath)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	} else if err != nil {
		return nil, err
	}

	versions := []string{}
	for _, e := range entries {
		if !e.IsDir() || !IsExplicitVersion(e.Name()) {
			continue
		}
		fullPath := filepath.Join(toolPath, e.Name(), arch)
		if exists(fullPath + ".complete") {
			versions = append(versions, e.Name())
		}
	}
	return versions, nil
}

func (tc *ToolCache) createToolPath(tool, version, arch string) (string, error) {
	folderPath := filepath.Join(tc.Root, tool, version, arch)
	if err := os.RemoveAll(folderPath); err != nil {
		return "", err
	}
	if err := os.RemoveAll(folderPath + ".complete"); err != nil {
		return "", err
	}
	if err := os.MkdirAll(folderPath, 0o777); err != nil {
		return "", err
	}
	return folderPath, nil
}

func (tc *ToolCache) completeToolPath(ctx context.Context, tool, version, arch string) error {
	markerPath := filepath.Join(tc.Root, tool, version, arch) + ".complete"
	common.Logger(ctx).Debugf("finished caching tool")
	return os.WriteFile(markerPath, nil, 0o644)
}

// Clean normalises an explicit version ("v1.2.3+meta" becomes "1.2.3") and
// returns any other string unchanged.
func Clean(version string) string {
	v := strings.TrimLeft(strings.TrimSpace(version), "=v")
	if !strictSemver.MatchString(v) {
		return version
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return version
	}
	clean := fmt.Sprintf("%d.%d.%d", sv.Major(), sv.Minor(), sv.Patch())
	if sv.Prerelease() != "" {
		clean += "-" + sv.Prerelease()
	}
	return clean
}

// IsExplicitVersion reports whether versionSpec names exactly one version.
func IsExplicitVersion(versionSpec string) bool {
	return strictSemver.MatchString(strings.TrimLeft(strings.TrimSpace(versionSpec), "=v"))
}

// EvaluateVersions returns the highest of versions satisfying versionSpec, or "".
func EvaluateVersions(versions []string, versionSpec string) string {
	c, err := semver.NewConstraint(versionSpec)
	if err != nil {
		return ""
	}
	parsed := make([]*semver.Version, 0, len(versions))
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		parsed = append(parsed, sv)
	}
	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].GreaterThan(parsed[j])
	})
	for _, v := range parsed {
		if c.Check(v) {
			return v.Original()
		}
	}
	return ""
}

// Arch returns the architecture name used by the runner's tool cache layout.
func Arch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return runtime.GOARCH
	}
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
