package github

import (
	"bufio"
	"context"
	"net/url"
	"os"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/nektos/actions-toolkit/pkg/exec"
)

// Client wraps the REST API client for the configured API URL.
type Client struct {
	*github.Client
	Context *Context
}

// NewClient returns a client authenticated with token against APIURL().
func NewClient(ctx context.Context, token string) (*Client, error) {
	gh := github.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if api := APIURL(); api != defaultAPIURL {
		u, err := url.Parse(strings.TrimSuffix(api, "/") + "/")
		if err != nil {
			return nil, err
		}
		gh.BaseURL = u
	}
	return &Client{Client: gh, Context: NewContext(ctx)}, nil
}

// RepoData fetches the repository of the current run.
func (c *Client) RepoData(ctx context.Context) (*github.Repository, error) {
	repo, err := c.Context.Repo(ctx)
	if err != nil {
		return nil, err
	}
	data, _, err := c.Repositories.Get(ctx, repo.Owner, repo.Repo)
	return data, err
}

// CommitSHA resolves ref to a commit sha.
func (c *Client) CommitSHA(ctx context.Context, owner, repo, ref string) (string, error) {
	sha, _, err := c.Repositories.GetCommitSHA1(ctx, owner, repo, ref, "")
	return sha, err
}

// GetToken returns GITHUB_TOKEN or GH_TOKEN, falling back to the token of
// the gh CLI run in workingDirectory.
func GetToken(ctx context.Context, runner exec.Runner, workingDirectory string) (string, error) {
	for _, key := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
	}
	if runner == nil {
		runner = exec.Default()
	}

	out, err := runner.Output(ctx, "gh", []string{"auth", "token"}, &exec.Options{
		Dir:    workingDirectory,
		Silent: true,
	})
	if err != nil {
		return "", err
	}

	// Read the first line of the output
	scanner := bufio.NewScanner(strings.NewReader(out.Stdout))
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", nil
}
