package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nektos/actions-toolkit/pkg/artifactcache"
	"github.com/nektos/actions-toolkit/pkg/state"
	"github.com/nektos/actions-toolkit/pkg/toolcache"
	"github.com/nektos/actions-toolkit/pkg/toolcache/cache"
)

type cacheInput struct {
	baseDir   string
	cacheFile string
	noRemote  bool
	stateFile string
	toolCache string
}

func (ci *cacheInput) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&ci.baseDir, "base-dir", "", "directory of the local copies (default is the "+appName+" cache directory)")
	flags.StringVar(&ci.cacheFile, "cache-file", "", "file name inside the cache directory")
	flags.BoolVar(&ci.noRemote, "no-remote", false, "do not use the remote cache")
	flags.StringVar(&ci.stateFile, "state-file", "", "job state file (default is $GITHUB_STATE)")
	flags.StringVar(&ci.toolCache, "tool-cache", "", "hosted tool cache directory (default is $RUNNER_TOOL_CACHE)")
}

func (ci *cacheInput) newCache(input *Input, name, version string) (*cache.Cache, error) {
	baseDir := ci.baseDir
	if baseDir == "" {
		baseDir = filepath.Join(CacheHomeDir, "tools", name)
	}
	return cache.New(cache.Opts{
		Name:          name,
		Version:       version,
		BaseDir:       input.resolve(baseDir),
		CacheFile:     ci.cacheFile,
		NoRemoteCache: ci.noRemote,
	},
		cache.WithRegistry(toolcache.New(input.resolve(ci.toolCache))),
		cache.WithRemoteCache(artifactcache.NewClientFromEnv()),
		cache.WithStateStore(ci.stateStore(input)),
	)
}

func (ci *cacheInput) stateStore(input *Input) state.Store {
	return &state.FileStore{Path: input.resolve(ci.stateFile)}
}

func newCacheCommand(input *Input) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache tool binaries locally, in the hosted tool cache and in the remote cache",
	}

	saveInput := &cacheInput{}
	var deferRemote bool
	saveCmd := &cobra.Command{
		Use:   "save NAME VERSION FILE",
		Short: "Save FILE as version VERSION of tool NAME",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if saveInput.cacheFile == "" {
				saveInput.cacheFile = filepath.Base(args[2])
			}
			c, err := saveInput.newCache(input, args[0], args[1])
			if err != nil {
				return err
			}
			p, err := c.Save(cmd.Context(), input.resolve(args[2]), deferRemote)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), input.Output, p)
		},
	}
	saveInput.addFlags(saveCmd.Flags())
	saveCmd.Flags().BoolVar(&deferRemote, "defer", false, "record the remote save for `cache post` instead of uploading now")

	findInput := &cacheInput{}
	findCmd := &cobra.Command{
		Use:   "find NAME VERSION",
		Short: "Print the path of the cached file, nothing on a miss",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if findInput.cacheFile == "" {
				return fmt.Errorf("--cache-file is required")
			}
			c, err := findInput.newCache(input, args[0], args[1])
			if err != nil {
				return err
			}
			p, err := c.Find(cmd.Context())
			if err != nil || p == "" {
				return err
			}
			return printOutput(cmd.OutOrStdout(), input.Output, p)
		},
	}
	findInput.addFlags(findCmd.Flags())

	postInput := &cacheInput{}
	postCmd := &cobra.Command{
		Use:   "post",
		Short: "Upload the remote save deferred by `cache save --defer`",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ps, err := cache.Post(cmd.Context(), artifactcache.NewClientFromEnv(), postInput.stateStore(input))
			if err != nil || ps == nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), input.Output, ps)
		},
	}
	postCmd.Flags().StringVar(&postInput.stateFile, "state-file", "", "job state file (default is $GITHUB_STATE)")

	cacheCmd.AddCommand(saveCmd, findCmd, postCmd)
	return cacheCmd
}
