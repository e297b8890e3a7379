package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nektos/actions-toolkit/pkg/artifact"
	"github.com/nektos/actions-toolkit/pkg/common"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	t.Setenv("GITHUB_SERVER_URL", "")
	t.Setenv("RUNNER_TEMP", t.TempDir())
	s, err := StartServer(filepath.Join(t.TempDir(), "artifacts"), "127.0.0.1", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	token, err := common.CreateAuthorizationToken(1, 42, 7)
	require.NoError(t, err)
	return s, token
}

func TestServerRoundTrip(t *testing.T) {
	s, token := startServer(t)
	ctx := context.Background()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("world"), 0o600))

	client := &artifact.ResultsClient{BaseURL: s.ExternalURL(), Token: token, MaxAttempts: 1}
	up, err := client.UploadArtifact(ctx, "my-artifact", []string{
		filepath.Join(src, "a.txt"),
		filepath.Join(src, "sub", "b.txt"),
	}, src, &artifact.UploadArtifactOptions{CompressionLevel: 6})
	require.NoError(t, err)
	assert.Equal(t, artifactNameToID("my-artifact"), up.ID)
	assert.NotZero(t, up.Size)

	stored, err := os.ReadFile(filepath.Join(s.dir, "42", "my-artifact", digestFile))
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+up.Digest, string(stored))

	list, err := client.ListArtifacts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list.Artifacts, 1)
	assert.Equal(t, "my-artifact", list.Artifacts[0].Name)
	assert.Equal(t, up.Size, list.Artifacts[0].Size)
	assert.NotNil(t, list.Artifacts[0].CreatedAt)

	got, err := client.GetArtifact(ctx, "my-artifact", nil)
	require.NoError(t, err)
	assert.Equal(t, up.ID, got.Artifact.ID)

	_, err = client.GetArtifact(ctx, "missing", nil)
	var notFound *artifact.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	dst := t.TempDir()
	dl, err := client.DownloadArtifact(ctx, up.ID, &artifact.DownloadArtifactOptions{
		Path:         dst,
		ExpectedHash: got.Artifact.Digest,
	})
	require.NoError(t, err)
	assert.False(t, dl.DigestMismatch)
	b, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(b))

	del, err := client.DeleteArtifact(ctx, "my-artifact", nil)
	require.NoError(t, err)
	assert.Equal(t, up.ID, del.ID)

	list, err = client.ListArtifacts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list.Artifacts)
}

func TestServerUnauthorized(t *testing.T) {
	s, _ := startServer(t)

	req, err := http.NewRequest(http.MethodPost, s.ExternalURL()+artifact.ServicePath+"/ListArtifacts", bytes.NewBufferString(`{"workflowRunBackendId":"42"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerRejectsBadRequests(t *testing.T) {
	s, token := startServer(t)

	post := func(method, body string) int {
		req, err := http.NewRequest(http.MethodPost, s.ExternalURL()+artifact.ServicePath+"/"+method, bytes.NewBufferString(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post("CreateArtifact", `{"workflowRunBackendId":"42","name":"../escape"}`))
	assert.Equal(t, http.StatusBadRequest, post("CreateArtifact", `{"workflowRunBackendId":"abc","name":"x"}`))
	assert.Equal(t, http.StatusBadRequest, post("CreateArtifact", `not json`))
	assert.Equal(t, http.StatusNotFound, post("FinalizeArtifact", `{"workflow_run_backend_id":"42","name":"never-created"}`))
	assert.Equal(t, http.StatusNotFound, post("DeleteArtifact", `{"workflowRunBackendId":"42","name":"never-created"}`))
}

func TestServerSignedURLs(t *testing.T) {
	s, _ := startServer(t)

	req := httpRequest(t, s)
	signed := s.signedURL(req, "UploadArtifact", "thing", 42)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, artifact.ServicePath+"/UploadArtifact", u.Path)
	assert.Equal(t, "thing", u.Query().Get("artifactName"))
	assert.Equal(t, "42", u.Query().Get("taskID"))

	verifyReq, err := http.NewRequest(http.MethodPut, signed, nil)
	require.NoError(t, err)
	runID, name, err := s.verify(verifyReq, "UploadArtifact")
	require.NoError(t, err)
	assert.Equal(t, int64(42), runID)
	assert.Equal(t, "thing", name)

	_, _, err = s.verify(verifyReq, "DownloadArtifact")
	assert.Error(t, err)

	q := u.Query()
	q.Set("artifactName", "other")
	u.RawQuery = q.Encode()
	resp, err := http.DefaultClient.Do(mustRequest(t, http.MethodPut, u.String()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerBlockUpload(t *testing.T) {
	s, token := startServer(t)

	req, err := http.NewRequest(http.MethodPost, s.ExternalURL()+artifact.ServicePath+"/CreateArtifact",
		bytes.NewBufferString(`{"workflowRunBackendId":"42","name":"blocks","version":4}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	created := &artifact.CreateArtifactResponse{}
	require.NoError(t, artifact.DecodeMessage(resp.Body, created))
	resp.Body.Close()
	require.True(t, created.Ok)

	for i, comp := range []string{"block", "appendBlock", "blocklist"} {
		resp, err := http.DefaultClient.Do(mustBodyRequest(t, http.MethodPut, created.SignedUploadURL+"&comp="+comp, fmt.Sprintf("part%d", i)))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	b, err := os.ReadFile(filepath.Join(s.dir, "42", "blocks", "blocks.zip"))
	require.NoError(t, err)
	assert.Equal(t, "part0part1", string(b))
}

func httpRequest(t *testing.T, s *Server) *http.Request {
	t.Helper()
	return mustRequest(t, http.MethodGet, s.ExternalURL())
}

func mustRequest(t *testing.T, method, u string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, u, nil)
	require.NoError(t, err)
	return req
}

func mustBodyRequest(t *testing.T, method, u, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, u, bytes.NewBufferString(body))
	require.NoError(t, err)
	return req
}
