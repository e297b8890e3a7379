package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nektos/actions-toolkit/pkg/git"
)

type gitInfo struct {
	Ref         string     `json:"ref"`
	SHA         string     `json:"sha"`
	ShortCommit string     `json:"shortCommit"`
	Tag         string     `json:"tag,omitempty"`
	RemoteURL   string     `json:"remoteUrl,omitempty"`
	CommitDate  *time.Time `json:"commitDate,omitempty"`
}

func newGitCommand(input *Input) *cobra.Command {
	gitCmd := &cobra.Command{
		Use:   "git",
		Short: "Inspect the git checkout of the working directory",
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print the ref, commit, tag and remote of the checkout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			g := git.New()
			g.Dir = input.WorkdirPath()

			gc, err := g.Context(ctx)
			if err != nil {
				return err
			}
			info := &gitInfo{Ref: gc.Ref, SHA: gc.SHA}
			if info.ShortCommit, err = g.ShortCommit(ctx); err != nil {
				return err
			}
			if info.Tag, err = g.Tag(ctx); err != nil {
				return err
			}
			// a checkout without remote is fine
			info.RemoteURL, _ = g.RemoteURL(ctx)
			if date, err := g.CommitDate(ctx, gc.SHA); err == nil {
				info.CommitDate = &date
			}
			return printOutput(cmd.OutOrStdout(), input.Output, info)
		},
	}

	gitCmd.AddCommand(infoCmd)
	return gitCmd
}
