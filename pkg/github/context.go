package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/git"
)

// Repo identifies a repository.
type Repo struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Repo
}

// Context describes the workflow run the process is part of.
type Context struct {
	Payload    map[string]any `json:"payload,omitempty"`
	EventName  string         `json:"eventName"`
	SHA        string         `json:"sha"`
	Ref        string         `json:"ref"`
	Workflow   string         `json:"workflow"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Job        string         `json:"job"`
	RunNumber  int64          `json:"runNumber"`
	RunID      int64          `json:"runId"`
	APIURL     string         `json:"apiUrl"`
	ServerURL  string         `json:"serverUrl"`
	GraphQLURL string         `json:"graphqlUrl"`
	Workspace  string         `json:"workspace"`
}

// NewContext loads the run context from the environment and the event
// payload at GITHUB_EVENT_PATH.
func NewContext(ctx context.Context) *Context {
	c := &Context{
		Payload:    map[string]any{},
		EventName:  os.Getenv("GITHUB_EVENT_NAME"),
		SHA:        os.Getenv("GITHUB_SHA"),
		Ref:        os.Getenv("GITHUB_REF"),
		Workflow:   os.Getenv("GITHUB_WORKFLOW"),
		Action:     os.Getenv("GITHUB_ACTION"),
		Actor:      os.Getenv("GITHUB_ACTOR"),
		Job:        os.Getenv("GITHUB_JOB"),
		RunNumber:  envInt("GITHUB_RUN_NUMBER"),
		RunID:      envInt("GITHUB_RUN_ID"),
		APIURL:     APIURL(),
		ServerURL:  ServerURL(),
		GraphQLURL: os.Getenv("GITHUB_GRAPHQL_URL"),
		Workspace:  Workspace(),
	}
	if c.GraphQLURL == "" {
		c.GraphQLURL = defaultAPIURL + "/graphql"
	}

	if path := os.Getenv("GITHUB_EVENT_PATH"); path != "" {
		if err := c.loadPayload(path); err != nil {
			common.Logger(ctx).Warnf("GITHUB_EVENT_PATH %s could not be loaded: %v", path, err)
		} else if c.EventName == "" {
			c.EventName = EventNameFromPayload(c.Payload)
		}
	}

	// outside of a job, fall back to the local checkout
	if c.SHA == "" || c.Ref == "" {
		if c.SHA == "" {
			if _, sha, err := git.FindRevision(ctx, c.Workspace); err == nil {
				c.SHA = sha
			}
		}
		if c.Ref == "" {
			if ref, err := git.FindRef(ctx, c.Workspace); err == nil {
				c.Ref = ref
			}
		}
	}
	return c
}

func (c *Context) loadPayload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &c.Payload)
}

// Repo resolves the repository from GITHUB_REPOSITORY, the event payload or
// the origin remote of the workspace, in that order.
func (c *Context) Repo(ctx context.Context) (Repo, error) {
	if v := Repository(); v != "" {
		owner, repo, ok := strings.Cut(v, "/")
		if ok {
			return Repo{Owner: owner, Repo: repo}, nil
		}
	}

	if repository, ok := c.Payload["repository"].(map[string]any); ok {
		owner, _ := repository["owner"].(map[string]any)
		login, _ := owner["login"].(string)
		name, _ := repository["name"].(string)
		if login != "" && name != "" {
			return Repo{Owner: login, Repo: name}, nil
		}
	}

	instance := strings.TrimPrefix(strings.TrimPrefix(c.ServerURL, "https://"), "http://")
	if slug, err := git.FindGithubRepo(ctx, c.Workspace, instance, ""); err == nil {
		if owner, repo, ok := strings.Cut(slug, "/"); ok {
			return Repo{Owner: owner, Repo: repo}, nil
		}
	}

	return Repo{}, errors.New("context.repo requires a GITHUB_REPOSITORY environment variable like 'owner/repo'")
}

// Issue is the issue or pull request of the triggering event.
func (c *Context) Issue(ctx context.Context) (Repo, int, error) {
	repo, err := c.Repo(ctx)
	if err != nil {
		return repo, 0, err
	}
	for _, key := range []string{"issue", "pull_request"} {
		if obj, ok := c.Payload[key].(map[string]any); ok {
			if n, ok := obj["number"].(float64); ok {
				return repo, int(n), nil
			}
		}
	}
	if n, ok := c.Payload["number"].(float64); ok {
		return repo, int(n), nil
	}
	return repo, 0, fmt.Errorf("event %s has no issue number", c.EventName)
}

func envInt(key string) int64 {
	n, _ := strconv.ParseInt(os.Getenv(key), 10, 64)
	return n
}
