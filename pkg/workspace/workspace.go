// Package workspace holds per-process scratch space and the build context
// derived from the run.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/github"
)

var tmpDir = sync.OnceValues(func() (string, error) {
	base := common.LookupDefaultEnv("RUNNER_TEMP")
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(base, "actions-toolkit-")
})

// TmpDir returns the scratch directory of this process, created once under
// RUNNER_TEMP.
func TmpDir() (string, error) {
	return tmpDir()
}

// TmpName returns a unique path inside TmpDir that does not exist yet.
func TmpName() (string, error) {
	dir, err := TmpDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tmp-"+uuid.NewString()), nil
}

// ParseGitRef turns a ref and sha into the fragment of a git build context:
// the sha unless ref is a pull request ref. With
// DOCKER_DEFAULT_GIT_CONTEXT_PR_HEAD_REF=true the merge ref of a pull
// request is swapped for its head.
func ParseGitRef(ref, sha string) string {
	prHeadRef := os.Getenv("DOCKER_DEFAULT_GIT_CONTEXT_PR_HEAD_REF") == "true"
	if sha != "" && ref != "" && !strings.HasPrefix(ref, "refs/") {
		ref = "refs/heads/" + ref
	}
	if sha != "" && !strings.HasPrefix(ref, "refs/pull/") {
		ref = sha
	} else if strings.HasPrefix(ref, "refs/pull/") && prHeadRef {
		if strings.HasSuffix(ref, "/merge") {
			ref = strings.TrimSuffix(ref, "/merge") + "/head"
		}
	}
	return ref
}

// GitRef is ParseGitRef applied to the current run.
func GitRef(ctx context.Context) string {
	c := github.NewContext(ctx)
	return ParseGitRef(c.Ref, c.SHA)
}

// GitContext is the remote git build context of the current run,
// <server>/<owner>/<repo>.git#<ref>.
func GitContext(ctx context.Context) (string, error) {
	c := github.NewContext(ctx)
	repo, err := c.Repo(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s.git#%s", github.ServerURL(), repo, ParseGitRef(c.Ref, c.SHA)), nil
}
