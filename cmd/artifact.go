package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nektos/actions-toolkit/pkg/artifact"
	"github.com/nektos/actions-toolkit/pkg/exec"
	"github.com/nektos/actions-toolkit/pkg/github"
	"github.com/nektos/actions-toolkit/pkg/summary"
	"github.com/nektos/actions-toolkit/pkg/util"
)

// findByInput selects the artifacts of another workflow run.
type findByInput struct {
	runID      int64
	repository string
	token      string
}

func (fi *findByInput) addFlags(flags *pflag.FlagSet) {
	flags.Int64Var(&fi.runID, "run-id", 0, "workflow run to read artifacts from (default is the current run)")
	flags.StringVar(&fi.repository, "repository", "", "owner/repo of --run-id (default is $GITHUB_REPOSITORY)")
	flags.StringVar(&fi.token, "token", "", "token for --run-id (default is $GITHUB_TOKEN, $GH_TOKEN or gh auth token)")
}

func (fi *findByInput) findBy(cmd *cobra.Command, input *Input) (*artifact.FindBy, error) {
	if fi.runID == 0 {
		return nil, nil
	}
	repository := fi.repository
	if repository == "" {
		repository = github.Repository()
	}
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("--repository must look like owner/repo, got %q", repository)
	}
	token := fi.token
	if token == "" {
		var err error
		token, err = github.GetToken(cmd.Context(), exec.Default(), input.WorkdirPath())
		if err != nil {
			return nil, err
		}
	}
	return &artifact.FindBy{
		Token:           token,
		WorkflowRunID:   fi.runID,
		RepositoryOwner: owner,
		RepositoryName:  repo,
	}, nil
}

func newArtifactCommand(input *Input) *cobra.Command {
	artifactCmd := &cobra.Command{
		Use:   "artifact",
		Short: "Upload, download, list and delete workflow run artifacts",
	}

	var (
		rootDir          string
		retentionDays    int
		compressionLevel int
		writeSummary     bool
	)
	uploadCmd := &cobra.Command{
		Use:   "upload NAME FILE...",
		Short: "Upload FILEs as artifact NAME",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := artifact.UploadOptions{
				Name:          args[0],
				RootDirectory: input.resolve(rootDir),
			}
			if opts.RootDirectory == "" {
				opts.RootDirectory = input.WorkdirPath()
			}
			for _, f := range args[1:] {
				opts.Files = append(opts.Files, input.resolve(f))
			}
			if cmd.Flags().Changed("retention-days") {
				opts.RetentionDays = &retentionDays
			}
			if cmd.Flags().Changed("compression-level") {
				opts.CompressionLevel = &compressionLevel
			}
			res, err := artifact.New().Upload(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if writeSummary {
				if err := uploadSummary(res); err != nil {
					return err
				}
			}
			return printOutput(cmd.OutOrStdout(), input.Output, res)
		},
	}
	uploadCmd.Flags().StringVar(&rootDir, "root", "", "directory the archive paths are relative to (default is the working directory)")
	uploadCmd.Flags().IntVar(&retentionDays, "retention-days", 90, "days to keep the artifact")
	uploadCmd.Flags().IntVar(&compressionLevel, "compression-level", 6, "zip compression level, 0 to 9")
	uploadCmd.Flags().BoolVar(&writeSummary, "summary", false, "add the artifact to the job summary")

	downloadFind := &findByInput{}
	var downloadPath, expectedHash string
	downloadCmd := &cobra.Command{
		Use:   "download NAME",
		Short: "Download and extract artifact NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			findBy, err := downloadFind.findBy(cmd, input)
			if err != nil {
				return err
			}
			dst := input.resolve(downloadPath)
			if dst == "" {
				dst = input.WorkdirPath()
			}
			res, err := artifact.New().Download(cmd.Context(), artifact.DownloadOptions{
				Name:         args[0],
				Destination:  dst,
				ExpectedHash: expectedHash,
				FindBy:       findBy,
			})
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), input.Output, res)
		},
	}
	downloadFind.addFlags(downloadCmd.Flags())
	downloadCmd.Flags().StringVar(&downloadPath, "path", "", "destination directory (default is the working directory)")
	downloadCmd.Flags().StringVar(&expectedHash, "expected-hash", "", "sha256 digest the archive must have")

	listFind := &findByInput{}
	var latest bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the artifacts of the workflow run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			findBy, err := listFind.findBy(cmd, input)
			if err != nil {
				return err
			}
			res, err := artifact.New().List(cmd.Context(), &artifact.ListArtifactsOptions{Latest: latest, FindBy: findBy})
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), input.Output, res)
		},
	}
	listFind.addFlags(listCmd.Flags())
	listCmd.Flags().BoolVar(&latest, "latest", false, "only the newest artifact of every name")

	getFind := &findByInput{}
	getCmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Show artifact NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			findBy, err := getFind.findBy(cmd, input)
			if err != nil {
				return err
			}
			res, err := artifact.New().Get(cmd.Context(), args[0], &artifact.FindOptions{FindBy: findBy})
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), input.Output, res)
		},
	}
	getFind.addFlags(getCmd.Flags())

	deleteFind := &findByInput{}
	deleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete artifact NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			findBy, err := deleteFind.findBy(cmd, input)
			if err != nil {
				return err
			}
			res, err := artifact.New().Delete(cmd.Context(), args[0], &artifact.FindOptions{FindBy: findBy})
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), input.Output, res)
		},
	}
	deleteFind.addFlags(deleteCmd.Flags())

	artifactCmd.AddCommand(uploadCmd, downloadCmd, listCmd, getCmd, deleteCmd)
	return artifactCmd
}

func uploadSummary(res *artifact.UploadResult) error {
	s := summary.New()
	s.AddHeading("Artifact", 3).
		AddTable([][]summary.TableCell{
			{{Data: "Name", Header: true}, {Data: "Size", Header: true}, {Data: "Digest", Header: true}},
			{{Data: res.Name}, {Data: util.FormatFileSize(res.Size)}, {Data: res.Digest}},
		}).
		AddLink("Download", res.URL)
	return s.Write(false)
}
