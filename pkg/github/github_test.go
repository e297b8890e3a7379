package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nektos/actions-toolkit/pkg/common"
	"github.com/nektos/actions-toolkit/pkg/exec"
)

func setRunEnv(t *testing.T) {
	t.Setenv("GITHUB_SERVER_URL", "")
	t.Setenv("GITHUB_API_URL", "")
	t.Setenv("GITHUB_REPOSITORY", "carry0987/actions-toolkit")
	t.Setenv("GITHUB_RUN_ID", "2188748038")
	t.Setenv("GITHUB_RUN_ATTEMPT", "2")
}

func TestServerURL(t *testing.T) {
	t.Setenv("GITHUB_SERVER_URL", "")
	assert.Equal(t, "https://github.com", ServerURL())
	t.Setenv("GITHUB_SERVER_URL", "https://foo.github.com")
	assert.Equal(t, "https://foo.github.com", ServerURL())
}

func TestAPIURL(t *testing.T) {
	t.Setenv("GITHUB_API_URL", "")
	assert.Equal(t, "https://api.github.com", APIURL())
	t.Setenv("GITHUB_API_URL", "https://bar.github.com")
	assert.Equal(t, "https://bar.github.com", APIURL())
}

func TestIsGHES(t *testing.T) {
	for server, want := range map[string]bool{
		"":                            false,
		"https://github.com":          false,
		"https://octo.ghe.com":        false,
		"http://github.localhost":     false,
		"https://github.example.corp": true,
	} {
		t.Setenv("GITHUB_SERVER_URL", server)
		assert.Equal(t, want, IsGHES(), server)
	}
}

func TestWorkflowRunURL(t *testing.T) {
	setRunEnv(t)
	assert.Equal(t, "carry0987/actions-toolkit", Repository())
	assert.Equal(t, "https://github.com/carry0987/actions-toolkit/actions/runs/2188748038", WorkflowRunURL(false))
	assert.Equal(t, "https://github.com/carry0987/actions-toolkit/actions/runs/2188748038/attempts/2", WorkflowRunURL(true))
}

func TestRepositoryUnset(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "")
	t.Setenv("GITHUB_SERVER_URL", "")
	t.Setenv("GITHUB_RUN_ID", "7")
	assert.Empty(t, Repository())
	assert.Equal(t, "https://github.com//actions/runs/7", WorkflowRunURL(false))
}

func TestRunAttemptDefault(t *testing.T) {
	t.Setenv("GITHUB_RUN_ATTEMPT", "")
	assert.Equal(t, 1, RunAttempt())
}

func runtimeToken(t *testing.T, ac, scp string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, RuntimeToken{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "vstoken.actions.githubusercontent.com"},
		Ac:               ac,
		Scp:              scp,
	})
	s, err := token.SignedString([]byte("not-verified"))
	require.NoError(t, err)
	return s
}

func TestActionsRuntimeToken(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		t.Setenv("ACTIONS_RUNTIME_TOKEN", "")
		token, err := ActionsRuntimeToken()
		assert.NoError(t, err)
		assert.Nil(t, token)
	})
	t.Run("malformed", func(t *testing.T) {
		t.Setenv("ACTIONS_RUNTIME_TOKEN", "foo")
		_, err := ActionsRuntimeToken()
		assert.Error(t, err)
	})
	t.Run("fixture", func(t *testing.T) {
		t.Setenv("ACTIONS_RUNTIME_TOKEN", runtimeToken(t, `[{"Scope":"refs/heads/master","Permission":3}]`, ""))
		token, err := ActionsRuntimeToken()
		require.NoError(t, err)
		assert.Equal(t, `[{"Scope":"refs/heads/master","Permission":3}]`, token.Ac)
		assert.Equal(t, "vstoken.actions.githubusercontent.com", token.Issuer)
	})
}

func TestPrintActionsRuntimeTokenACs(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	ctx := common.WithLogger(context.Background(), logger)

	t.Setenv("ACTIONS_RUNTIME_TOKEN", "")
	assert.ErrorIs(t, PrintActionsRuntimeTokenACs(ctx), ErrRuntimeTokenNotSet)
	assert.EqualError(t, PrintActionsRuntimeTokenACs(ctx), "ACTIONS_RUNTIME_TOKEN not set")

	t.Setenv("ACTIONS_RUNTIME_TOKEN", "foo")
	assert.ErrorContains(t, PrintActionsRuntimeTokenACs(ctx), "Cannot parse GitHub Actions Runtime Token: ")

	t.Setenv("ACTIONS_RUNTIME_TOKEN", runtimeToken(t, "not json", ""))
	assert.ErrorContains(t, PrintActionsRuntimeTokenACs(ctx), "Cannot parse GitHub Actions Runtime Token ACs: ")

	t.Setenv("ACTIONS_RUNTIME_TOKEN", runtimeToken(t, `[{"Scope":"refs/heads/master","Permission":3},{"Scope":"refs/heads/dev","Permission":8}]`, ""))
	require.NoError(t, PrintActionsRuntimeTokenACs(ctx))
	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, "refs/heads/master: read/write", entries[0].Message)
	assert.Equal(t, "refs/heads/dev: unimplemented (8)", entries[1].Message)
}

func TestBackendIDs(t *testing.T) {
	token, err := ParseRuntimeToken(runtimeToken(t, "[]", "Actions.ExampleScope Actions.Results:ce7f54c7-61c7-4aae-887f-30da475f5f1a:ca395085-040a-526b-2ce8-bdc85f692774"))
	require.NoError(t, err)
	ids, err := token.BackendIDs()
	require.NoError(t, err)
	assert.Equal(t, "ce7f54c7-61c7-4aae-887f-30da475f5f1a", ids.WorkflowRunBackendID)
	assert.Equal(t, "ca395085-040a-526b-2ce8-bdc85f692774", ids.WorkflowJobRunBackendID)

	token, err = ParseRuntimeToken(runtimeToken(t, "[]", "Actions.ExampleScope"))
	require.NoError(t, err)
	_, err = token.BackendIDs()
	assert.Error(t, err)
}

func TestBackendIDsFromMintedToken(t *testing.T) {
	raw, err := common.CreateAuthorizationToken(1, 42, 7)
	require.NoError(t, err)
	token, err := ParseRuntimeToken(raw)
	require.NoError(t, err)
	ids, err := token.BackendIDs()
	require.NoError(t, err)
	assert.Equal(t, &BackendIDs{WorkflowRunBackendID: "42", WorkflowJobRunBackendID: "7"}, ids)
}

func TestNewContext(t *testing.T) {
	setRunEnv(t)
	dir := t.TempDir()
	event := filepath.Join(dir, "event.json")
	require.NoError(t, os.WriteFile(event, []byte(`{"pull_request":{"number":15},"repository":{"name":"r","owner":{"login":"o"}}}`), 0o600))
	t.Setenv("GITHUB_EVENT_PATH", event)
	t.Setenv("GITHUB_EVENT_NAME", "pull_request")
	t.Setenv("GITHUB_SHA", "860c1904a1ce19322e91ac35af1ab07466440c37")
	t.Setenv("GITHUB_REF", "refs/pull/15/merge")
	t.Setenv("GITHUB_WORKSPACE", dir)
	t.Setenv("GITHUB_RUN_NUMBER", "12")

	ctx := context.Background()
	c := NewContext(ctx)
	assert.Equal(t, "pull_request", c.EventName)
	assert.Equal(t, "refs/pull/15/merge", c.Ref)
	assert.EqualValues(t, 12, c.RunNumber)
	assert.EqualValues(t, 2188748038, c.RunID)

	repo, err := c.Repo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "carry0987/actions-toolkit", repo.String())

	t.Setenv("GITHUB_REPOSITORY", "")
	repo, number, err := c.Issue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Repo{Owner: "o", Repo: "r"}, repo)
	assert.Equal(t, 15, number)
}

func TestContextRepoMissing(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "")
	t.Setenv("GITHUB_EVENT_PATH", "")
	t.Setenv("GITHUB_WORKSPACE", t.TempDir())
	t.Setenv("GITHUB_SHA", "x")
	t.Setenv("GITHUB_REF", "y")
	ctx := context.Background()
	_, err := NewContext(ctx).Repo(ctx)
	assert.EqualError(t, err, "context.repo requires a GITHUB_REPOSITORY environment variable like 'owner/repo'")
}

func TestRepoData(t *testing.T) {
	setRunEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/carry0987/actions-toolkit":
			_, _ = w.Write([]byte(`{"id":1296269,"name":"Hello-World","full_name":"octocat/Hello-World"}`))
		case "/repos/carry0987/actions-toolkit/commits/main":
			_, _ = w.Write([]byte(`6dcb09b5b57875f334f61aebed695e2e4193db5e`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	t.Setenv("GITHUB_API_URL", srv.URL)
	t.Setenv("GITHUB_WORKSPACE", t.TempDir())
	t.Setenv("GITHUB_SHA", "x")
	t.Setenv("GITHUB_REF", "y")

	ctx := context.Background()
	client, err := NewClient(ctx, "token")
	require.NoError(t, err)

	repo, err := client.RepoData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello-World", repo.GetName())

	sha, err := client.CommitSHA(ctx, "carry0987", "actions-toolkit", "main")
	require.NoError(t, err)
	assert.Equal(t, "6dcb09b5b57875f334f61aebed695e2e4193db5e", sha)
}

func TestGetToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	runner := exec.RunnerFunc(func(_ context.Context, name string, args []string, opts *exec.Options) (*exec.Output, error) {
		assert.Equal(t, "gh", name)
		assert.Equal(t, []string{"auth", "token"}, args)
		assert.Equal(t, "/work", opts.Dir)
		return &exec.Output{Stdout: "gho_abc\n"}, nil
	})
	token, err := GetToken(context.Background(), runner, "/work")
	require.NoError(t, err)
	assert.Equal(t, "gho_abc", token)

	t.Setenv("GH_TOKEN", "from-env")
	token, err = GetToken(context.Background(), runner, "/work")
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)
}
