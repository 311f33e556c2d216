package maintenance

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/molior-deb/molior/cli/cmd/molior/commands"
)

func init() {
	maintenanceCmd.Flags().StringVarP(
		&maintenanceCmdConfig.message,
		"message",
		"m",
		"",
		"Message shown to users while maintenance mode is on")
	commands.RootCmd.AddCommand(maintenanceCmd)
}

var maintenanceCmdConfig = struct {
	message string
}{}

var maintenanceCmd = &cobra.Command{
	Use:           "maintenance [on|off]",
	Short:         "Switch the server maintenance mode, or update its message",
	Args:          cobra.MaximumNArgs(1),
	ValidArgs:     []string{"on", "off"},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The endpoint stores the inverse of the mode string it receives, so
		// send the mode we want the server to switch away from.
		mode := ""
		if len(args) == 1 {
			switch args[0] {
			case "on":
				mode = "false"
			case "off":
				mode = "true"
			default:
				return fmt.Errorf("invalid mode %q, expected on or off", args[0])
			}
		}
		if mode == "" && maintenanceCmdConfig.message == "" {
			return errors.New("nothing to do, pass on, off or --message")
		}

		apiClient, err := commands.MakeAPIClient()
		if err != nil {
			return err
		}

		doc, err := apiClient.SetMaintenance(context.Background(), mode, maintenanceCmdConfig.message)
		if err != nil {
			return errors.Wrap(err, "error updating maintenance settings")
		}

		if doc.MaintenanceMode != nil {
			state := "off"
			if *doc.MaintenanceMode {
				state = "on"
			}
			fmt.Printf("maintenance mode is now %s\n", state)
		}
		if doc.MaintenanceMessage != nil {
			fmt.Printf("maintenance message set to %q\n", *doc.MaintenanceMessage)
		}
		return nil
	},
}
