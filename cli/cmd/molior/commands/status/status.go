package status

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/molior-deb/molior/cli/cmd/molior/commands"
)

func init() {
	commands.RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:           "status",
	Short:         "Show the server version and maintenance state",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiClient, err := commands.MakeAPIClient()
		if err != nil {
			return err
		}

		doc, err := apiClient.GetStatus(context.Background())
		if err != nil {
			return errors.Wrap(err, "error reading server status")
		}

		if commands.Global.JSON {
			buf, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(buf))
			return nil
		}

		fmt.Printf("molior server v%s\n", doc.VersionMoliorServer)
		if doc.MaintenanceMode {
			fmt.Printf("maintenance mode: on (%s)\n", doc.MaintenanceMessage)
		} else {
			fmt.Printf("maintenance mode: off\n")
		}
		if doc.GPGURL != "" {
			fmt.Printf("repository signing key: %s\n", doc.GPGURL)
		}
		if doc.SSHKey != "" {
			fmt.Printf("ssh public key: %s", doc.SSHKey)
		}
		return nil
	},
}
