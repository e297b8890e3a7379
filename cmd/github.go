package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nektos/actions-toolkit/pkg/exec"
	"github.com/nektos/actions-toolkit/pkg/github"
)

func newGitHubCommand(input *Input) *cobra.Command {
	githubCmd := &cobra.Command{
		Use:   "github",
		Short: "Inspect the GitHub context of the job",
	}

	var withAttempt bool
	runURLCmd := &cobra.Command{
		Use:   "run-url",
		Short: "Print the URL of the workflow run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printOutput(cmd.OutOrStdout(), input.Output, github.WorkflowRunURL(withAttempt))
		},
	}
	runURLCmd.Flags().BoolVar(&withAttempt, "attempt", false, "link to the current run attempt")

	tokenACsCmd := &cobra.Command{
		Use:   "token-acs",
		Short: "Log the access controls of ACTIONS_RUNTIME_TOKEN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return github.PrintActionsRuntimeTokenACs(cmd.Context())
		},
	}

	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Print the run context read from the environment and the event payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printOutput(cmd.OutOrStdout(), input.Output, github.NewContext(cmd.Context()))
		},
	}

	var token string
	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "Print the repository of the run as returned by the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if token == "" {
				var err error
				if token, err = github.GetToken(ctx, exec.Default(), input.WorkdirPath()); err != nil {
					return err
				}
			}
			client, err := github.NewClient(ctx, token)
			if err != nil {
				return err
			}
			repo, err := client.RepoData(ctx)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), input.Output, repo)
		},
	}
	repoCmd.Flags().StringVar(&token, "token", "", "API token (default is $GITHUB_TOKEN, $GH_TOKEN or gh auth token)")

	githubCmd.AddCommand(runURLCmd, tokenACsCmd, contextCmd, repoCmd)
	return githubCmd
}
