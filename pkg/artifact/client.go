package artifact

import (
	"context"
	"time"
)

// FindBy selects the artifacts of another workflow run, read through the
// public REST API.
type FindBy struct {
	Token           string
	WorkflowRunID   int64
	RepositoryOwner string
	RepositoryName  string
}

type UploadArtifactOptions struct {
	// RetentionDays is the artifact lifetime, the repository default when 0.
	RetentionDays int
	// CompressionLevel is the deflate level from 0 (store) to 9.
	CompressionLevel int
}

type UploadArtifactResponse struct {
	ID     int64  `json:"id"`
	Size   int64  `json:"size"`
	Digest string `json:"digest,omitempty"`
}

type ListArtifactsOptions struct {
	// Latest keeps only the newest artifact of every name.
	Latest bool
	FindBy *FindBy
}

type FindOptions struct {
	FindBy *FindBy
}

type DownloadArtifactOptions struct {
	Path         string
	ExpectedHash string
	FindBy       *FindBy
}

// Artifact describes an uploaded artifact.
type Artifact struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Size      int64      `json:"size"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Digest    string     `json:"digest,omitempty"`
}

type ListArtifactsResponse struct {
	Artifacts []Artifact `json:"artifacts"`
}

type GetArtifactResponse struct {
	Artifact Artifact `json:"artifact"`
}

type DownloadArtifactResponse struct {
	DownloadPath   string `json:"downloadPath,omitempty"`
	DigestMismatch bool   `json:"digestMismatch,omitempty"`
}

type DeleteArtifactResponse struct {
	ID int64 `json:"id"`
}

// Client is an artifact backend.
type Client interface {
	UploadArtifact(ctx context.Context, name string, files []string, rootDirectory string, opts *UploadArtifactOptions) (*UploadArtifactResponse, error)
	ListArtifacts(ctx context.Context, opts *ListArtifactsOptions) (*ListArtifactsResponse, error)
	GetArtifact(ctx context.Context, name string, opts *FindOptions) (*GetArtifactResponse, error)
	DownloadArtifact(ctx context.Context, id int64, opts *DownloadArtifactOptions) (*DownloadArtifactResponse, error)
	DeleteArtifact(ctx context.Context, name string, opts *FindOptions) (*DeleteArtifactResponse, error)
}

// DefaultClient serves the current run from the results service and other
// runs, selected with FindBy, from the public API.
type DefaultClient struct {
	Results *ResultsClient
	// Public builds the client for a FindBy selection.
	Public func(findBy *FindBy) Client
}

func NewDefaultClient() *DefaultClient {
	return &DefaultClient{
		Results: NewResultsClientFromEnv(),
		Public: func(findBy *FindBy) Client {
			return &PublicClient{FindBy: *findBy}
		},
	}
}

func (c *DefaultClient) pick(findBy *FindBy) Client {
	if findBy != nil {
		return c.Public(findBy)
	}
	return c.Results
}

func (c *DefaultClient) UploadArtifact(ctx context.Context, name string, files []string, rootDirectory string, opts *UploadArtifactOptions) (*UploadArtifactResponse, error) {
	return c.Results.UploadArtifact(ctx, name, files, rootDirectory, opts)
}

func (c *DefaultClient) ListArtifacts(ctx context.Context, opts *ListArtifactsOptions) (*ListArtifactsResponse, error) {
	var findBy *FindBy
	if opts != nil {
		findBy = opts.FindBy
	}
	return c.pick(findBy).ListArtifacts(ctx, opts)
}

func (c *DefaultClient) GetArtifact(ctx context.Context, name string, opts *FindOptions) (*GetArtifactResponse, error) {
	var findBy *FindBy
	if opts != nil {
		findBy = opts.FindBy
	}
	return c.pick(findBy).GetArtifact(ctx, name, opts)
}

func (c *DefaultClient) DownloadArtifact(ctx context.Context, id int64, opts *DownloadArtifactOptions) (*DownloadArtifactResponse, error) {
	var findBy *FindBy
	if opts != nil {
		findBy = opts.FindBy
	}
	return c.pick(findBy).DownloadArtifact(ctx, id, opts)
}

func (c *DefaultClient) DeleteArtifact(ctx context.Context, name string, opts *FindOptions) (*DeleteArtifactResponse, error) {
	var findBy *FindBy
	if opts != nil {
		findBy = opts.FindBy
	}
	return c.pick(findBy).DeleteArtifact(ctx, name, opts)
}
