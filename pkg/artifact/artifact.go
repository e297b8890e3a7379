// Package artifact uploads, lists, fetches and deletes workflow run
// artifacts.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/github"
)

const defaultRetentionDays = 90

type UploadOptions struct {
	Name  string
	Files []string
	// RootDirectory defaults to the current directory.
	RootDirectory string
	// RetentionDays defaults to 90.
	RetentionDays *int
	// CompressionLevel defaults to 6.
	CompressionLevel *int
}

type UploadResult struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest,omitempty"`
	URL    string `json:"url,omitempty"`
}

type DownloadOptions struct {
	Name string
	// Destination defaults to the current directory.
	Destination  string
	ExpectedHash string
	FindBy       *FindBy
}

type DownloadResult struct {
	Name           string `json:"name"`
	DownloadPath   string `json:"downloadPath"`
	DigestMismatch bool   `json:"digestMismatch,omitempty"`
}

// Proxy fronts an artifact Client with logging and defaults.
type Proxy struct {
	Client Client
}

func New() *Proxy {
	return &Proxy{Client: NewDefaultClient()}
}

func (p *Proxy) Upload(ctx context.Context, opts UploadOptions) (*UploadResult, error) {
	logger := common.Logger(ctx)
	logger.Infof("[Artifact] Uploading artifact: %s", opts.Name)

	root := opts.RootDirectory
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = wd
	}
	retention := defaultRetentionDays
	if opts.RetentionDays != nil {
		retention = *opts.RetentionDays
	}
	compression := defaultCompression
	if opts.CompressionLevel != nil {
		compression = *opts.CompressionLevel
	}

	res, err := p.Client.UploadArtifact(ctx, opts.Name, opts.Files, root, &UploadArtifactOptions{
		RetentionDays:    retention,
		CompressionLevel: compression,
	})
	if err != nil {
		var netErr *NetworkError
		if code := NetworkErrorCode(err); code != "" && !errors.As(err, &netErr) {
			return nil, &NetworkError{Code: code, Err: err}
		}
		return nil, err
	}
	if res == nil || res.ID == 0 {
		return nil, &InvalidResponseError{Message: "Cannot finalize artifact upload"}
	}
	logger.Infof("[Artifact] Successfully finalized (%d)", res.ID)

	u := fmt.Sprintf("%s/artifacts/%d", github.WorkflowRunURL(false), res.ID)
	logger.Infof("[Artifact] Download URL: %s", u)

	return &UploadResult{
		ID:     res.ID,
		Name:   filepath.Base(opts.Name),
		Size:   res.Size,
		Digest: res.Digest,
		URL:    u,
	}, nil
}

func (p *Proxy) List(ctx context.Context, opts *ListArtifactsOptions) (*ListArtifactsResponse, error) {
	common.Logger(ctx).Infof("[Artifact] Listing artifacts")
	return p.Client.ListArtifacts(ctx, opts)
}

func (p *Proxy) Get(ctx context.Context, name string, opts *FindOptions) (*GetArtifactResponse, error) {
	common.Logger(ctx).Infof("[Artifact] Getting artifact info: %s", name)
	return p.Client.GetArtifact(ctx, name, opts)
}

// Download looks the artifact up by name and extracts it into
// opts.Destination.
func (p *Proxy) Download(ctx context.Context, opts DownloadOptions) (*DownloadResult, error) {
	common.Logger(ctx).Infof("[Artifact] Downloading artifact: %s", opts.Name)

	var find *FindOptions
	if opts.FindBy != nil {
		find = &FindOptions{FindBy: opts.FindBy}
	}
	got, err := p.Client.GetArtifact(ctx, opts.Name, find)
	var notFound *NotFoundError
	if errors.As(err, &notFound) || (err == nil && (got == nil || got.Artifact.ID == 0)) {
		return nil, &InvalidResponseError{Message: fmt.Sprintf("Artifact \"%s\" not found", opts.Name)}
	} else if err != nil {
		return nil, err
	}

	dst := opts.Destination
	if dst == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dst = wd
	}
	res, err := p.Client.DownloadArtifact(ctx, got.Artifact.ID, &DownloadArtifactOptions{
		Path:         dst,
		ExpectedHash: opts.ExpectedHash,
		FindBy:       opts.FindBy,
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.DownloadPath == "" {
		return nil, &InvalidResponseError{Message: "Cannot download artifact or download path not found"}
	}
	return &DownloadResult{
		Name:           opts.Name,
		DownloadPath:   res.DownloadPath,
		DigestMismatch: res.DigestMismatch,
	}, nil
}

func (p *Proxy) Delete(ctx context.Context, name string, opts *FindOptions) (*DeleteArtifactResponse, error) {
	common.Logger(ctx).Infof("[Artifact] Deleting artifact: %s", name)
	return p.Client.DeleteArtifact(ctx, name, opts)
}
