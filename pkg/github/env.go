// Package github exposes the GitHub Actions job environment and a REST client.
package github

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	defaultServerURL = "https://github.com"
	defaultAPIURL    = "https://api.github.com"
)

func ServerURL() string {
	if v := os.Getenv("GITHUB_SERVER_URL"); v != "" {
		return v
	}
	return defaultServerURL
}

func APIURL() string {
	if v := os.Getenv("GITHUB_API_URL"); v != "" {
		return v
	}
	return defaultAPIURL
}

// IsGHES reports whether the server is a GitHub Enterprise Server instance.
// github.com, GHE.com and localhost hosts are not.
func IsGHES() bool {
	u, err := url.Parse(ServerURL())
	if err != nil {
		return false
	}
	host := strings.ToUpper(strings.TrimSpace(u.Hostname()))
	return host != "GITHUB.COM" && !strings.HasSuffix(host, ".GHE.COM") && !strings.HasSuffix(host, ".LOCALHOST")
}

// Workspace is GITHUB_WORKSPACE or the current directory.
func Workspace() string {
	if v := os.Getenv("GITHUB_WORKSPACE"); v != "" {
		return v
	}
	wd, _ := os.Getwd()
	return wd
}

// Repository is GITHUB_REPOSITORY, the owner/repo of the current run.
// Context.Repo also consults the event payload and the git remote.
func Repository() string {
	return os.Getenv("GITHUB_REPOSITORY")
}

func RunID() int64 {
	id, _ := strconv.ParseInt(os.Getenv("GITHUB_RUN_ID"), 10, 64)
	return id
}

// RunAttempt defaults to 1.
func RunAttempt() int {
	if n, err := strconv.Atoi(os.Getenv("GITHUB_RUN_ATTEMPT")); err == nil {
		return n
	}
	return 1
}

// WorkflowRunURL links to the current run, to the current attempt when
// withAttempt is set.
func WorkflowRunURL(withAttempt bool) string {
	u := fmt.Sprintf("%s/%s/actions/runs/%d", ServerURL(), Repository(), RunID())
	if withAttempt {
		u += fmt.Sprintf("/attempts/%d", RunAttempt())
	}
	return u
}
