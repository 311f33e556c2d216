package rebuild

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/molior-deb/molior/cli/cmd/molior/commands"
)

func init() {
	commands.RootCmd.AddCommand(rebuildCmd)
}

var rebuildCmd = &cobra.Command{
	Use:           "rebuild <build-id>",
	Short:         "Run a failed build again",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		buildID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build id %q", args[0])
		}

		apiClient, err := commands.MakeAPIClient()
		if err != nil {
			return err
		}

		doc, err := apiClient.RebuildBuild(context.Background(), buildID)
		if err != nil {
			return errors.Wrapf(err, "error rebuilding build %d", buildID)
		}

		fmt.Printf("rebuild of build %d requested\n", doc.BuildID)
		return nil
	},
}
