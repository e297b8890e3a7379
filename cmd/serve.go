package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nektos/actions-toolkit/pkg/artifactcache"
	"github.com/nektos/actions-toolkit/pkg/artifacts"
	"github.com/nektos/actions-toolkit/pkg/common"
)

type serveEnv struct {
	CacheURL     string `json:"ACTIONS_CACHE_URL,omitempty"`
	ResultsURL   string `json:"ACTIONS_RESULTS_URL,omitempty"`
	RuntimeToken string `json:"ACTIONS_RUNTIME_TOKEN"`
}

// servers are the local backends started by `serve`.
type servers struct {
	input *Input
	dir   string
	out   io.Writer
	env   serveEnv

	cache     *artifactcache.Handler
	artifacts *artifacts.Server
}

func (s *servers) startCache(ctx context.Context) error {
	h, err := artifactcache.StartHandler(filepath.Join(s.dir, "cache"), s.input.Serve.Addr, s.input.Serve.CachePort, common.Logger(ctx))
	if err != nil {
		return fmt.Errorf("failed to start cache server: %w", err)
	}
	s.cache = h
	s.env.CacheURL = h.ExternalURL() + "/"
	return nil
}

func (s *servers) startArtifacts(ctx context.Context) error {
	srv, err := artifacts.StartServer(filepath.Join(s.dir, "artifacts"), s.input.Serve.Addr, s.input.Serve.ArtifactPort, common.Logger(ctx))
	if err != nil {
		return fmt.Errorf("failed to start artifact server: %w", err)
	}
	s.artifacts = srv
	s.env.ResultsURL = srv.ExternalURL() + "/"
	return nil
}

func (s *servers) printEnv(_ context.Context) error {
	return printOutput(s.out, s.input.Output, &s.env)
}

func (s *servers) close(_ context.Context) error {
	return errors.Join(s.cache.Close(), s.artifacts.Close())
}

func waitForCancel(ctx context.Context) error {
	<-ctx.Done()
	common.Logger(ctx).Infof("Shutting down")
	return nil
}

func newServeCommand(input *Input) *cobra.Command {
	var (
		runID, jobID         int64
		noCache, noArtifacts bool
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run local cache and artifact servers for jobs outside of GitHub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noCache && noArtifacts {
				return fmt.Errorf("nothing to serve")
			}
			token, err := common.CreateAuthorizationToken(1, runID, jobID)
			if err != nil {
				return err
			}
			s := &servers{
				input: input,
				dir:   input.resolve(input.Serve.Dir),
				out:   cmd.OutOrStdout(),
				env:   serveEnv{RuntimeToken: token},
			}
			return common.NewPipelineExecutor(
				common.NewFieldExecutor("server", "cache", s.startCache).IfBool(!noCache),
				common.NewFieldExecutor("server", "artifacts", s.startArtifacts).IfBool(!noArtifacts),
				s.printEnv,
				common.NewInfoExecutor("Serving %s until interrupted", s.dir),
				waitForCancel,
			).Finally(s.close)(cmd.Context())
		},
	}
	serveCmd.Flags().StringVar(&input.Serve.Dir, "dir", "", "data directory (default is $XDG_CACHE_HOME/"+appName+"/server)")
	serveCmd.Flags().StringVar(&input.Serve.Addr, "addr", "", "address advertised to clients (default is the outbound IP)")
	serveCmd.Flags().Uint16Var(&input.Serve.CachePort, "cache-port", 0, "cache server port (default picks a free one)")
	serveCmd.Flags().Uint16Var(&input.Serve.ArtifactPort, "artifact-port", 0, "artifact server port (default picks a free one)")
	serveCmd.Flags().Int64Var(&runID, "run-id", 1, "workflow run id encoded in the runtime token")
	serveCmd.Flags().Int64Var(&jobID, "job-id", 1, "job id encoded in the runtime token")
	serveCmd.Flags().BoolVar(&noCache, "no-cache", false, "do not start the cache server")
	serveCmd.Flags().BoolVar(&noArtifacts, "no-artifacts", false, "do not start the artifact server")
	return serveCmd
}
