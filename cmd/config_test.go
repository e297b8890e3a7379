package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
output: yaml
verbose: true
mask: [FOO]
serve:
  cache-port: 8080
  dir: /srv/toolkit
`), 0o600))
	t.Setenv("ACTIONS_TOOLKIT_LOG_FILE", "logs/toolkit.log")
	t.Setenv("ACTIONS_TOOLKIT_SERVE_ARTIFACT_PORT", "9090")

	input := &Input{configFile: cfgFile, Output: "json"}
	require.NoError(t, input.applyConfig())

	assert.Equal(t, "json", input.Output, "flags win over the config file")
	assert.True(t, input.Verbose)
	assert.Equal(t, []string{"FOO"}, input.Masks)
	assert.Equal(t, "logs/toolkit.log", input.LogFile)
	assert.Equal(t, uint16(8080), input.Serve.CachePort)
	assert.Equal(t, uint16(9090), input.Serve.ArtifactPort)
	assert.Equal(t, "/srv/toolkit", input.Serve.Dir)
	assert.Equal(t, ".", input.Workdir)
}

func TestApplyConfigDefaults(t *testing.T) {
	input := &Input{Workdir: t.TempDir()}
	require.NoError(t, input.applyConfig())
	assert.Equal(t, "json", input.Output)
	assert.Equal(t, filepath.Join(CacheHomeDir, "server"), input.Serve.Dir)
}

func TestApplyConfigWorkdirFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("output: yaml\n"), 0o600))
	input := &Input{Workdir: dir}
	require.NoError(t, input.applyConfig())
	assert.Equal(t, "yaml", input.Output)
}

func TestApplyConfigMissingFile(t *testing.T) {
	input := &Input{configFile: filepath.Join(t.TempDir(), "missing.yaml")}
	assert.ErrorContains(t, input.applyConfig(), "failed to read config file")
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOOLKIT_TEST_A=from-file\nTOOLKIT_TEST_B=from-file\n"), 0o600))
	t.Setenv("TOOLKIT_TEST_B", "from-env")
	require.NoError(t, os.Unsetenv("TOOLKIT_TEST_A"))
	t.Cleanup(func() { _ = os.Unsetenv("TOOLKIT_TEST_A") })

	input := &Input{Workdir: dir, EnvFiles: []string{".env", "missing.env"}}
	require.NoError(t, input.loadEnvFiles())
	assert.Equal(t, "from-file", os.Getenv("TOOLKIT_TEST_A"))
	assert.Equal(t, "from-env", os.Getenv("TOOLKIT_TEST_B"))
}

func TestNewSecrets(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghs_token")
	t.Setenv("ACTIONS_RUNTIME_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	t.Setenv("MY_SECRET", "from-env")

	s, err := newSecrets([]string{"inline=value", "my_secret"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, secrets{
		"GITHUB_TOKEN": "ghs_token",
		"INLINE":       "value",
		"MY_SECRET":    "from-env",
	}, s)
	assert.ElementsMatch(t, []string{"ghs_token", "value", "from-env"}, s.Values())
}

func TestNewLogger(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "")
	t.Setenv("RUNNER_DEBUG", "")
	dir := t.TempDir()

	out := &bytes.Buffer{}
	logger, rotator, err := newLogger(&Input{Workdir: dir, LogFile: "logs/out.log"}, out, []string{"hunter2"})
	require.NoError(t, err)
	require.NotNil(t, rotator)
	logger.Infof("password is hunter2")
	logger.Debugf("hidden")
	require.NoError(t, rotator.Close())

	assert.Equal(t, "INFO password is ***\n", out.String())
	b, err := os.ReadFile(filepath.Join(dir, "logs", "out.log"))
	require.NoError(t, err)
	assert.Equal(t, out.String(), string(b))

	out.Reset()
	logger, rotator, err = newLogger(&Input{JSONLogger: true, Verbose: true}, out, nil)
	require.NoError(t, err)
	assert.Nil(t, rotator)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	logger.Debugf("visible")
	assert.Contains(t, out.String(), `"msg":"visible"`)

	t.Setenv("GITHUB_ACTIONS", "true")
	out.Reset()
	logger, _, err = newLogger(&Input{}, out, nil)
	require.NoError(t, err)
	logger.Warnf("careful")
	assert.Equal(t, "::warning::careful\n", out.String())
}

func TestPrintOutput(t *testing.T) {
	v := struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
		Flag string `json:"flag"`
	}{"bundle", 12, "true"}

	out := &bytes.Buffer{}
	require.NoError(t, printOutput(out, "json", v))
	assert.Equal(t, "{\n  \"name\": \"bundle\",\n  \"size\": 12,\n  \"flag\": \"true\"\n}\n", out.String())

	out.Reset()
	require.NoError(t, printOutput(out, "yaml", v))
	assert.Equal(t, "name: bundle\nsize: 12\nflag: \"true\"\n", out.String())

	out.Reset()
	require.NoError(t, printOutput(out, "yaml", "plain"))
	assert.Equal(t, "plain\n", out.String())

	assert.Error(t, printOutput(out, "xml", v))
}
