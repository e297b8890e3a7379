package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/filecollector"
	"github.com/nektos/actions-toolkit/pkg/github"
	"github.com/nektos/actions-toolkit/pkg/workspace"
)

const (
	defaultMaxAttempts   = 5
	defaultRetryDelay    = 3 * time.Second
	retryMultiplier      = 1.5
	defaultCompression   = 6
	artifactProtoVersion = 4
	notFoundFAQ          = "Please ensure that your artifact is not expired and the artifact was uploaded using a compatible version of toolkit/upload-artifact.\nFor more information, visit the GitHub Artifacts FAQ: https://github.com/actions/toolkit/blob/main/packages/artifact/docs/faq.md"
	digestPrefix         = "sha256:"
)

var retryableStatusCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ResultsClient talks to the artifact service of the results backend on
// behalf of the current job.
type ResultsClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	MaxAttempts int
	RetryDelay  time.Duration
}

// NewResultsClientFromEnv reads ACTIONS_RESULTS_URL and ACTIONS_RUNTIME_TOKEN.
func NewResultsClientFromEnv() *ResultsClient {
	return &ResultsClient{
		BaseURL: os.Getenv("ACTIONS_RESULTS_URL"),
		Token:   os.Getenv("ACTIONS_RUNTIME_TOKEN"),
	}
}

func (c *ResultsClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *ResultsClient) backendIDs() (*github.BackendIDs, error) {
	if github.IsGHES() {
		return nil, ErrGHESNotSupported
	}
	if c.BaseURL == "" {
		return nil, fmt.Errorf("Unable to get the ACTIONS_RESULTS_URL env variable")
	}
	if c.Token == "" {
		return nil, github.ErrRuntimeTokenNotSet
	}
	token, err := github.ParseRuntimeToken(c.Token)
	if err != nil {
		return nil, fmt.Errorf("Cannot parse GitHub Actions Runtime Token: %w", err)
	}
	return token.BackendIDs()
}

// call performs a twirp method, retrying on throttling and server errors
// with an exponential backoff.
func (c *ResultsClient) call(ctx context.Context, method string, in, out Message) error {
	logger := common.Logger(ctx)
	body, err := MarshalMessage(in)
	if err != nil {
		return err
	}
	u := strings.TrimSuffix(c.BaseURL, "/") + ServicePath + "/" + method

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultRetryDelay
	}
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = 0

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.do(ctx, u, body, out)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debugf("[Artifact] %s failed, retrying in %s: %v", method, next, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	return nil
}

// do sends one request. Errors that are not worth retrying are permanent.
func (c *ResultsClient) do(ctx context.Context, u string, body []byte, out Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("User-Agent", "actions-toolkit")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if NetworkErrorCode(err) != "" {
			return asNetworkError(err)
		}
		return backoff.Permanent(asNetworkError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("unexpected response %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if retryableStatusCodes[resp.StatusCode] {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := DecodeMessage(resp.Body, out); err != nil {
		return backoff.Permanent(&InvalidResponseError{Message: fmt.Sprintf("failed to decode response: %v", err)})
	}
	return nil
}

func (c *ResultsClient) UploadArtifact(ctx context.Context, name string, files []string, rootDirectory string, opts *UploadArtifactOptions) (*UploadArtifactResponse, error) {
	logger := common.Logger(ctx)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	spec, err := zipSpecification(files, rootDirectory)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &UploadArtifactOptions{CompressionLevel: defaultCompression}
	}
	ids, err := c.backendIDs()
	if err != nil {
		return nil, err
	}

	createReq := &CreateArtifactRequest{
		WorkflowRunBackendID:    ids.WorkflowRunBackendID,
		WorkflowJobRunBackendID: ids.WorkflowJobRunBackendID,
		Name:                    name,
		Version:                 artifactProtoVersion,
	}
	if opts.RetentionDays > 0 {
		expires := time.Now().AddDate(0, 0, opts.RetentionDays).UTC()
		createReq.ExpiresAt = &expires
	}
	createResp := &CreateArtifactResponse{}
	if err := c.call(ctx, "CreateArtifact", createReq, createResp); err != nil {
		return nil, err
	}
	if !createResp.Ok {
		return nil, &InvalidResponseError{Message: "CreateArtifact: response from backend was not ok"}
	}

	tmp, err := workspace.TmpName()
	if err != nil {
		return nil, err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)
	defer f.Close()

	size, digest, err := writeZip(ctx, f, spec, opts.CompressionLevel)
	if err != nil {
		return nil, err
	}
	logger.Debugf("[Artifact] Archive of %d files is %d bytes (sha256 %s)", len(spec), size, digest)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := c.uploadBlob(ctx, createResp.SignedUploadURL, f, size); err != nil {
		return nil, err
	}

	finalizeResp := &FinalizeArtifactResponse{}
	if err := c.call(ctx, "FinalizeArtifact", &FinalizeArtifactRequest{
		WorkflowRunBackendID:    ids.WorkflowRunBackendID,
		WorkflowJobRunBackendID: ids.WorkflowJobRunBackendID,
		Name:                    name,
		Size:                    size,
		Hash:                    digestPrefix + digest,
	}, finalizeResp); err != nil {
		return nil, err
	}
	if !finalizeResp.Ok {
		return nil, &InvalidResponseError{Message: "FinalizeArtifact: response from backend was not ok"}
	}

	return &UploadArtifactResponse{
		ID:     finalizeResp.ArtifactID,
		Size:   size,
		Digest: digest,
	}, nil
}

// uploadBlob stores the archive at the signed URL as a single block blob.
func (c *ResultsClient) uploadBlob(ctx context.Context, signedURL string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, r)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/zip")
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return asNetworkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to upload artifact archive: %s", resp.Status)
	}
	return nil
}

func (c *ResultsClient) list(ctx context.Context, req *ListArtifactsRequest) ([]Artifact, error) {
	resp := &ListArtifactsResult{}
	if err := c.call(ctx, "ListArtifacts", req, resp); err != nil {
		return nil, err
	}
	artifacts := make([]Artifact, 0, len(resp.Artifacts))
	for _, a := range resp.Artifacts {
		artifacts = append(artifacts, Artifact{
			ID:        a.DatabaseID,
			Name:      a.Name,
			Size:      a.Size,
			CreatedAt: a.CreatedAt,
			Digest:    a.Digest,
		})
	}
	return artifacts, nil
}

func (c *ResultsClient) ListArtifacts(ctx context.Context, opts *ListArtifactsOptions) (*ListArtifactsResponse, error) {
	ids, err := c.backendIDs()
	if err != nil {
		return nil, err
	}
	artifacts, err := c.list(ctx, &ListArtifactsRequest{
		WorkflowRunBackendID:    ids.WorkflowRunBackendID,
		WorkflowJobRunBackendID: ids.WorkflowJobRunBackendID,
	})
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.Latest {
		artifacts = filterLatest(artifacts)
	}
	common.Logger(ctx).Infof("[Artifact] Found %d artifact(s)", len(artifacts))
	return &ListArtifactsResponse{Artifacts: artifacts}, nil
}

// filterLatest keeps the highest id of every name.
func filterLatest(artifacts []Artifact) []Artifact {
	sorted := append([]Artifact(nil), artifacts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })
	seen := map[string]bool{}
	latest := make([]Artifact, 0, len(sorted))
	for _, a := range sorted {
		if !seen[a.Name] {
			seen[a.Name] = true
			latest = append(latest, a)
		}
	}
	return latest
}

func (c *ResultsClient) GetArtifact(ctx context.Context, name string, _ *FindOptions) (*GetArtifactResponse, error) {
	ids, err := c.backendIDs()
	if err != nil {
		return nil, err
	}
	artifacts, err := c.list(ctx, &ListArtifactsRequest{
		WorkflowRunBackendID:    ids.WorkflowRunBackendID,
		WorkflowJobRunBackendID: ids.WorkflowJobRunBackendID,
		NameFilter:              &name,
	})
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, &NotFoundError{Message: fmt.Sprintf("Artifact not found for name: %s\n%s", name, notFoundFAQ)}
	}
	if len(artifacts) > 1 {
		common.Logger(ctx).Debugf("[Artifact] More than one artifact found for a single name, returning newest (last uploaded)")
		artifacts = filterLatest(artifacts)
	}
	return &GetArtifactResponse{Artifact: artifacts[0]}, nil
}

func (c *ResultsClient) DownloadArtifact(ctx context.Context, id int64, opts *DownloadArtifactOptions) (*DownloadArtifactResponse, error) {
	if opts == nil {
		opts = &DownloadArtifactOptions{}
	}
	ids, err := c.backendIDs()
	if err != nil {
		return nil, err
	}
	artifacts, err := c.list(ctx, &ListArtifactsRequest{
		WorkflowRunBackendID:    ids.WorkflowRunBackendID,
		WorkflowJobRunBackendID: ids.WorkflowJobRunBackendID,
		IDFilter:                &id,
	})
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, &NotFoundError{Message: fmt.Sprintf("No artifacts found for ID: %d\n%s", id, notFoundFAQ)}
	}

	signed := &GetSignedArtifactURLResponse{}
	if err := c.call(ctx, "GetSignedArtifactURL", &GetSignedArtifactURLRequest{
		WorkflowRunBackendID:    ids.WorkflowRunBackendID,
		WorkflowJobRunBackendID: ids.WorkflowJobRunBackendID,
		Name:                    artifacts[0].Name,
	}, signed); err != nil {
		return nil, err
	}

	return downloadZip(ctx, c.httpClient(), signed.SignedURL, nil, opts)
}

func (c *ResultsClient) DeleteArtifact(ctx context.Context, name string, opts *FindOptions) (*DeleteArtifactResponse, error) {
	got, err := c.GetArtifact(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	ids, err := c.backendIDs()
	if err != nil {
		return nil, err
	}
	resp := &DeleteArtifactResult{}
	if err := c.call(ctx, "DeleteArtifact", &DeleteArtifactRequest{
		WorkflowRunBackendID:    ids.WorkflowRunBackendID,
		WorkflowJobRunBackendID: ids.WorkflowJobRunBackendID,
		Name:                    got.Artifact.Name,
	}, resp); err != nil {
		return nil, err
	}
	if !resp.Ok {
		return nil, &InvalidResponseError{Message: "DeleteArtifact: response from backend was not ok"}
	}
	return &DeleteArtifactResponse{ID: resp.ArtifactID}, nil
}

// downloadZip fetches the archive at u and extracts it into opts.Path,
// checking its sha256 against opts.ExpectedHash when given.
func downloadZip(ctx context.Context, client *http.Client, u string, header http.Header, opts *DownloadArtifactOptions) (*DownloadArtifactResponse, error) {
	logger := common.Logger(ctx)
	dst := opts.Path
	if dst == "" {
		dst = github.Workspace()
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, asNetworkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP response from blob storage: %s", resp.Status)
	}

	tmp, err := workspace.TmpName()
	if err != nil {
		return nil, err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, h), resp.Body)
	if err != nil {
		return nil, err
	}
	digest := hex.EncodeToString(h.Sum(nil))

	if err := filecollector.Unzip(ctx, f, size, dst); err != nil {
		return nil, fmt.Errorf("failed to extract artifact: %w", err)
	}
	logger.Infof("[Artifact] Artifact download completed successfully (%s)", dst)

	res := &DownloadArtifactResponse{DownloadPath: dst}
	if opts.ExpectedHash != "" {
		res.DigestMismatch = strings.TrimPrefix(opts.ExpectedHash, digestPrefix) != digest
		if res.DigestMismatch {
			logger.Warnf("[Artifact] Computed digest %s does not match expected %s", digest, opts.ExpectedHash)
		}
	}
	return res, nil
}
