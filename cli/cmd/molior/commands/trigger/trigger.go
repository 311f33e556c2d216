package trigger

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/molior-deb/molior/cli/cmd/molior/commands"
)

func init() {
	triggerCmd.Flags().StringVar(
		&triggerCmdConfig.repo,
		"repo",
		"",
		"URL of the git repository to build, e.g. ssh://git@host/project/app.git")
	triggerCmd.Flags().StringVar(
		&triggerCmdConfig.ref,
		"ref",
		"",
		"Git ref to build: a commit hash, tag or branch")
	triggerCmd.Flags().StringVar(
		&triggerCmdConfig.branch,
		"branch",
		"",
		"Branch to track for CI builds; leave empty for a release build")
	triggerCmd.MarkFlagRequired("repo")
	triggerCmd.MarkFlagRequired("ref")
	commands.RootCmd.AddCommand(triggerCmd)
}

var triggerCmdConfig = struct {
	repo   string
	ref    string
	branch string
}{}

var triggerCmd = &cobra.Command{
	Use:           "trigger",
	Short:         "Request a build of a git ref",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiClient, err := commands.MakeAPIClient()
		if err != nil {
			return err
		}

		doc, err := apiClient.TriggerBuild(context.Background(),
			triggerCmdConfig.repo, triggerCmdConfig.ref, triggerCmdConfig.branch)
		if err != nil {
			return errors.Wrap(err, "error triggering build")
		}

		fmt.Printf("build %d created\n", doc.BuildID)
		return nil
	},
}
