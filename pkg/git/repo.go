package git

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/nektos/actions-toolkit/pkg/common"
)

var (
	codeCommitHTTPRegex = regexp.MustCompile(`^https?://git-codecommit\.(.+)\.amazonaws.com/v1/repos/(.+)$`)
	codeCommitSSHRegex  = regexp.MustCompile(`ssh://git-codecommit\.(.+)\.amazonaws.com/v1/repos/(.+)$`)
	githubHTTPRegex     = regexp.MustCompile(`^https?://.*github.com.*/(.+)/(.+?)(?:.git)?$`)
	githubSSHRegex      = regexp.MustCompile(`github.com[:/](.+)/(.+?)(?:.git)?$`)

	ErrNoRepo = errors.New("unable to find git repo")
)

func openRepo(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNoRepo, dir)
	}
	return repo, err
}

// FindRevision reads the HEAD commit of the repository containing dir
// without spawning git.
func FindRevision(ctx context.Context, dir string) (shortSha string, sha string, err error) {
	logger := common.Logger(ctx)

	repo, err := openRepo(dir)
	if err != nil {
		logger.WithError(err).Debugf("path %s not located inside a git repository", dir)
		return "", "", err
	}

	head, err := repo.Reference(plumbing.HEAD, true)
	if err != nil {
		return "", "", err
	}
	if head.Hash().IsZero() {
		return "", "", fmt.Errorf("HEAD sha1 could not be resolved")
	}

	hash := head.Hash().String()
	logger.Debugf("Found revision: %s", hash)
	return hash[:7], hash, nil
}

// FindRef returns the tag or branch checked out in the repository
// containing dir. A tag wins over a branch on the same commit.
func FindRef(ctx context.Context, dir string) (string, error) {
	logger := common.Logger(ctx)

	_, sha, err := FindRevision(ctx, dir)
	if err != nil {
		return "", err
	}
	logger.Debugf("HEAD points to '%s'", sha)

	repo, err := openRepo(dir)
	if err != nil {
		return "", err
	}
	iter, err := repo.References()
	if err != nil {
		return "", err
	}

	var refTag, refBranch string
	err = iter.ForEach(func(r *plumbing.Reference) error {
		if r.Hash().String() == sha {
			if r.Name().IsTag() {
				refTag = r.Name().String()
			}
			if r.Name().IsBranch() {
				refBranch = r.Name().String()
			}
		}
		if refTag != "" && refBranch != "" {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if refTag != "" {
		return refTag, nil
	}
	if refBranch != "" {
		return refBranch, nil
	}
	return "", fmt.Errorf("failed to identify reference (tag/branch) for the checked-out revision '%s'", sha)
}

// FindGithubRepo returns the owner/repo slug of remoteName ("origin" when
// empty) in the repository containing dir.
func FindGithubRepo(ctx context.Context, dir, githubInstance, remoteName string) (string, error) {
	if remoteName == "" {
		remoteName = "origin"
	}

	url, err := findRemoteURL(ctx, dir, remoteName)
	if err != nil {
		return "", err
	}
	_, slug, err := findSlug(url, githubInstance)
	return slug, err
}

func findRemoteURL(_ context.Context, dir, remoteName string) (string, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return "", err
	}

	remote, err := repo.Remote(remoteName)
	if err != nil {
		return "", err
	}
	if len(remote.Config().URLs) < 1 {
		return "", fmt.Errorf("remote '%s' exists but has no URL", remoteName)
	}
	return remote.Config().URLs[0], nil
}

func findSlug(url string, githubInstance string) (string, string, error) {
	if matches := codeCommitHTTPRegex.FindStringSubmatch(url); matches != nil {
		return "CodeCommit", matches[2], nil
	} else if matches := codeCommitSSHRegex.FindStringSubmatch(url); matches != nil {
		return "CodeCommit", matches[2], nil
	} else if matches := githubHTTPRegex.FindStringSubmatch(url); matches != nil {
		return "GitHub", fmt.Sprintf("%s/%s", matches[1], matches[2]), nil
	} else if matches := githubSSHRegex.FindStringSubmatch(url); matches != nil {
		return "GitHub", fmt.Sprintf("%s/%s", matches[1], matches[2]), nil
	} else if githubInstance != "" && githubInstance != "github.com" {
		host := regexp.QuoteMeta(strings.TrimSuffix(githubInstance, "/"))
		gheHTTPRegex := regexp.MustCompile(fmt.Sprintf(`^https?://%s/(.+)/(.+?)(?:.git)?$`, host))
		gheSSHRegex := regexp.MustCompile(fmt.Sprintf(`%s[:/](.+)/(.+?)(?:.git)?$`, host))
		if matches := gheHTTPRegex.FindStringSubmatch(url); matches != nil {
			return "GitHubEnterprise", fmt.Sprintf("%s/%s", matches[1], matches[2]), nil
		} else if matches := gheSSHRegex.FindStringSubmatch(url); matches != nil {
			return "GitHubEnterprise", fmt.Sprintf("%s/%s", matches[1], matches[2]), nil
		}
	}
	return "", url, nil
}
