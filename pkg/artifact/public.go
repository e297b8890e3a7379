package artifact

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/github"
)

const maxDownloadRedirects = 5

// PublicClient reads the artifacts of the workflow run selected by FindBy
// through the REST API. Uploads are not possible.
type PublicClient struct {
	FindBy FindBy
	HTTP   *http.Client
}

func (c *PublicClient) client(ctx context.Context) (*gh.Client, error) {
	if c.FindBy.Token == "" || c.FindBy.RepositoryOwner == "" || c.FindBy.RepositoryName == "" || c.FindBy.WorkflowRunID == 0 {
		return nil, fmt.Errorf("findBy requires token, workflowRunId, repositoryOwner and repositoryName")
	}
	client, err := github.NewClient(ctx, c.FindBy.Token)
	if err != nil {
		return nil, err
	}
	return client.Client, nil
}

func (c *PublicClient) UploadArtifact(context.Context, string, []string, string, *UploadArtifactOptions) (*UploadArtifactResponse, error) {
	return nil, fmt.Errorf("artifacts of another workflow run cannot be uploaded")
}

func (c *PublicClient) listAll(ctx context.Context) ([]Artifact, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	var artifacts []Artifact
	opts := &gh.ListOptions{PerPage: 100}
	for {
		list, resp, err := client.Actions.ListWorkflowRunArtifacts(ctx, c.FindBy.RepositoryOwner, c.FindBy.RepositoryName, c.FindBy.WorkflowRunID, opts)
		if err != nil {
			return nil, asNetworkError(err)
		}
		for _, a := range list.Artifacts {
			artifacts = append(artifacts, fromREST(a))
		}
		if resp.NextPage == 0 {
			return artifacts, nil
		}
		opts.Page = resp.NextPage
	}
}

func fromREST(a *gh.Artifact) Artifact {
	var created *time.Time
	if a.CreatedAt != nil {
		t := a.GetCreatedAt().Time
		created = &t
	}
	return Artifact{
		ID:        a.GetID(),
		Name:      a.GetName(),
		Size:      a.GetSizeInBytes(),
		CreatedAt: created,
	}
}

func (c *PublicClient) ListArtifacts(ctx context.Context, opts *ListArtifactsOptions) (*ListArtifactsResponse, error) {
	artifacts, err := c.listAll(ctx)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.Latest {
		artifacts = filterLatest(artifacts)
	}
	common.Logger(ctx).Infof("[Artifact] Found %d artifact(s)", len(artifacts))
	return &ListArtifactsResponse{Artifacts: artifacts}, nil
}

func (c *PublicClient) GetArtifact(ctx context.Context, name string, _ *FindOptions) (*GetArtifactResponse, error) {
	artifacts, err := c.listAll(ctx)
	if err != nil {
		return nil, err
	}
	var matches []Artifact
	for _, a := range artifacts {
		if a.Name == name {
			matches = append(matches, a)
		}
	}
	if len(matches) == 0 {
		return nil, &NotFoundError{Message: fmt.Sprintf("Artifact not found for name: %s\n%s", name, notFoundFAQ)}
	}
	return &GetArtifactResponse{Artifact: filterLatest(matches)[0]}, nil
}

func (c *PublicClient) DownloadArtifact(ctx context.Context, id int64, opts *DownloadArtifactOptions) (*DownloadArtifactResponse, error) {
	if opts == nil {
		opts = &DownloadArtifactOptions{}
	}
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	u, _, err := client.Actions.DownloadArtifact(ctx, c.FindBy.RepositoryOwner, c.FindBy.RepositoryName, id, maxDownloadRedirects)
	if err != nil {
		return nil, asNetworkError(err)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return downloadZip(ctx, httpClient, u.String(), nil, opts)
}

func (c *PublicClient) DeleteArtifact(ctx context.Context, name string, opts *FindOptions) (*DeleteArtifactResponse, error) {
	got, err := c.GetArtifact(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := client.Actions.DeleteArtifact(ctx, c.FindBy.RepositoryOwner, c.FindBy.RepositoryName, got.Artifact.ID); err != nil {
		return nil, asNetworkError(err)
	}
	return &DeleteArtifactResponse{ID: got.Artifact.ID}, nil
}
