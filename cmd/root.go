package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nektos/actions-toolkit/pkg/common"
)

var exitFunc = os.Exit

// Execute is the entry point to running the CLI
func Execute(ctx context.Context, version string) {
	input := &Input{}
	rootCmd := createRootCommand(ctx, input, version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		exitFunc(1)
	}
}

func createRootCommand(ctx context.Context, input *Input, version string) *cobra.Command {
	var rotator *lumberjack.Logger
	rootCmd := &cobra.Command{
		Use:          "actions-toolkit",
		Short:        "Cache tools, move artifacts and inspect the context of GitHub Actions jobs.",
		Args:         cobra.NoArgs,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := input.applyConfig(); err != nil {
				return err
			}
			if err := input.loadEnvFiles(); err != nil {
				return err
			}
			masked, err := newSecrets(input.Masks, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logger, r, err := newLogger(input, cmd.ErrOrStderr(), masked.Values())
			if err != nil {
				return err
			}
			rotator = r
			parent := cmd.Context()
			if parent == nil {
				parent = ctx
			}
			cmd.SetContext(common.WithLogger(parent, logger))
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if rotator != nil {
				return rotator.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&input.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&input.JSONLogger, "json", false, "output logs in json format")
	rootCmd.PersistentFlags().StringVar(&input.configFile, "config", "", "config file (default is ./"+ConfigFileName+" or $XDG_CONFIG_HOME/"+appName+"/config.yaml)")
	rootCmd.PersistentFlags().StringArrayVar(&input.EnvFiles, "env-file", nil, "dotenv file to load into the environment")
	rootCmd.PersistentFlags().StringVar(&input.LogFile, "log-file", "", "also write logs to this rotating file")
	rootCmd.PersistentFlags().StringVarP(&input.Output, "output", "o", "", "output format of results: json or yaml")
	rootCmd.PersistentFlags().StringVarP(&input.Workdir, "directory", "C", "", "working directory")
	rootCmd.PersistentFlags().StringArrayVar(&input.Masks, "mask", nil, "secret to mask in logs, NAME=VALUE or NAME to read it from the environment")

	rootCmd.AddCommand(
		newCacheCommand(input),
		newArtifactCommand(input),
		newGitCommand(input),
		newGitHubCommand(input),
		newServeCommand(input),
	)
	return rootCmd
}
