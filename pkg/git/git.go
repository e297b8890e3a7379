// Package git derives repository facts by running the git CLI.
package git

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/exec"
)

var (
	detachedRefRegex = regexp.MustCompile(`^(grafted, )?HEAD, (.*)$`)
	detachedBranch   = regexp.MustCompile(`^[^/]+/[^/]+, (.+)$`)
	detachedPull     = regexp.MustCompile(`^pull/\d+/(head|merge)$`)
	remoteGitHubRepo = regexp.MustCompile(`github.com/([^/]+)/([^/]+?)(?:\.git)?(/|$)`)
	remoteSHARegex   = regexp.MustCompile(`^[0-9a-fA-F]{40}`)
)

const commitDateLayout = "2006-01-02 15:04:05 -0700"

// Context is the ref and commit of the checkout.
type Context struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// Git runs git in Dir.
type Git struct {
	Runner exec.Runner
	// Dir is the working tree, the current directory when empty.
	Dir string
	// GitHubClient builds the REST client used by RemoteSHA.
	GitHubClient func(token string) *github.Client
}

// New returns a Git running on the host in the current directory.
func New() *Git {
	return &Git{}
}

func (g *Git) runner() exec.Runner {
	if g.Runner != nil {
		return g.Runner
	}
	return exec.Default()
}

func (g *Git) exec(ctx context.Context, args ...string) (string, error) {
	common.Logger(ctx).Debugf("Exec.getExecOutput: %s", exec.CommandLine("git", args))
	res, err := g.runner().Output(ctx, "git", args, &exec.Options{
		Dir:              g.Dir,
		Silent:           true,
		IgnoreReturnCode: true,
	})
	if err != nil {
		return "", err
	}
	if len(res.Stderr) > 0 && res.ExitCode != 0 {
		return "", errors.New(strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Context returns the current ref and full commit sha.
func (g *Git) Context(ctx context.Context) (*Context, error) {
	ref, err := g.Ref(ctx)
	if err != nil {
		return nil, err
	}
	sha, err := g.FullCommit(ctx)
	if err != nil {
		return nil, err
	}
	return &Context{Ref: ref, SHA: sha}, nil
}

func (g *Git) IsInsideWorkTree(ctx context.Context) (bool, error) {
	out, err := g.exec(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, err
	}
	return out == "true", nil
}

// RemoteSHA resolves ref in the remote repo. GitHub repositories are asked
// through the API when a token is given, anything else with git ls-remote.
func (g *Git) RemoteSHA(ctx context.Context, repo, ref, token string) (string, error) {
	if m := remoteGitHubRepo.FindStringSubmatch(repo); token != "" && m != nil {
		client := g.newGitHubClient(token)
		commits, _, err := client.Repositories.ListCommits(ctx, m[1], m[2], &github.CommitsListOptions{
			SHA:         ref,
			ListOptions: github.ListOptions{PerPage: 1},
		})
		if err != nil {
			return "", fmt.Errorf("Cannot find SHA of %s: %w", ref, err)
		}
		if len(commits) == 0 {
			return "", fmt.Errorf("Cannot find SHA of %s: no commits", ref)
		}
		return commits[0].GetSHA(), nil
	}

	out, err := g.exec(ctx, "ls-remote", repo, ref)
	if err != nil {
		return "", err
	}
	sha := remoteSHARegex.FindString(out)
	if sha == "" {
		return "", fmt.Errorf("Cannot find remote ref for %s#%s", repo, ref)
	}
	return sha, nil
}

func (g *Git) newGitHubClient(token string) *github.Client {
	if g.GitHubClient != nil {
		return g.GitHubClient(token)
	}
	return github.NewClient(nil).WithAuthToken(token)
}

func (g *Git) RemoteURL(ctx context.Context) (string, error) {
	return g.exec(ctx, "remote", "get-url", "origin")
}

// Ref returns the fully qualified ref of HEAD, also when HEAD is detached
// on a tag, a remote branch or a pull request ref.
func (g *Git) Ref(ctx context.Context) (string, error) {
	detached, err := g.isHeadDetached(ctx)
	if err != nil {
		return "", err
	}
	if detached {
		return g.detachedRef(ctx)
	}
	return g.exec(ctx, "symbolic-ref", "HEAD")
}

func (g *Git) FullCommit(ctx context.Context) (string, error) {
	return g.exec(ctx, "show", "--format=%H", "HEAD", "--quiet", "--")
}

func (g *Git) ShortCommit(ctx context.Context) (string, error) {
	return g.exec(ctx, "show", "--format=%h", "HEAD", "--quiet", "--")
}

// Tag returns the most recent tag pointing at HEAD, "" when there is none.
func (g *Git) Tag(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, "tag", "--points-at", "HEAD", "--sort", "-version:creatordate")
	if err != nil || out == "" {
		return "", err
	}
	first, _, _ := strings.Cut(out, "\n")
	return strings.TrimSpace(first), nil
}

// CommitDate returns the committer date of ref.
func (g *Git) CommitDate(ctx context.Context, ref string) (time.Time, error) {
	out, err := g.exec(ctx, "show", "-s", `--format="%ci"`, ref)
	if err != nil {
		return time.Time{}, err
	}
	// the format may return several lines for annotated tags, the date is the last one
	lines := strings.Split(out, "\n")
	return time.Parse(commitDateLayout, strings.Trim(lines[len(lines)-1], `"`))
}

func (g *Git) isHeadDetached(ctx context.Context) (bool, error) {
	out, err := g.exec(ctx, "branch", "--show-current")
	if err != nil {
		return false, err
	}
	return len(out) == 0, nil
}

func (g *Git) detachedRef(ctx context.Context) (string, error) {
	res, err := g.exec(ctx, "show", "-s", "--pretty=%D")
	if err != nil {
		return "", err
	}

	// Can be "HEAD, <tagname>" or "grafted, HEAD, <tagname>"
	m := detachedRefRegex.FindStringSubmatch(res)
	if m == nil || m[2] == "" {
		return "", fmt.Errorf("Cannot find detached HEAD ref in %q", res)
	}
	ref := strings.TrimSpace(m[2])

	// Tag refs are formatted as "tag: <tagname>"
	if strings.HasPrefix(ref, "tag: ") {
		_, tag, _ := strings.Cut(ref, ":")
		return "refs/tags/" + strings.TrimSpace(tag), nil
	}

	// Branch refs are formatted as "<origin>/<branch-name>, <branch-name>"
	if bm := detachedBranch.FindStringSubmatch(ref); bm != nil {
		return "refs/heads/" + strings.TrimSpace(bm[1]), nil
	}

	// Pull request merge refs are formatted as "pull/<number>/<state>"
	if detachedPull.MatchString(ref) {
		return "refs/" + ref, nil
	}

	return "", fmt.Errorf("Unsupported detached HEAD ref in %q", res)
}
