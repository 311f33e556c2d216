package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/molior-deb/molior/cli/cmd/molior/commands"
)

func init() {
	nodesCmd.Flags().StringVarP(
		&nodesCmdConfig.search,
		"search",
		"q",
		"",
		"Only list nodes whose name contains this string")
	nodesCmd.Flags().IntVar(
		&nodesCmdConfig.page,
		"page",
		0,
		"Page to fetch, starting at 1")
	nodesCmd.Flags().IntVar(
		&nodesCmdConfig.pageSize,
		"page-size",
		0,
		"Number of nodes per page")
	commands.RootCmd.AddCommand(nodesCmd)
}

var nodesCmdConfig = struct {
	search   string
	page     int
	pageSize int
}{}

var nodesCmd = &cobra.Command{
	Use:           "nodes",
	Short:         "List the server and its build nodes",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiClient, err := commands.MakeAPIClient()
		if err != nil {
			return err
		}

		doc, err := apiClient.GetNodes(context.Background(),
			nodesCmdConfig.search, nodesCmdConfig.page, nodesCmdConfig.pageSize)
		if err != nil {
			return errors.Wrap(err, "error listing nodes")
		}

		if commands.Global.JSON {
			buf, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(buf))
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Name", "Arch", "State", "Load", "Uptime", "CPUs"})
		for _, node := range doc.Results {
			table.Append([]string{
				node.Name,
				node.Architecture,
				node.State,
				formatLoad(node.Load),
				formatUptime(node.UptimeSeconds),
				fmt.Sprintf("%d", node.CPUCores),
			})
		}
		table.Render()
		fmt.Printf("%d node(s)\n", doc.TotalResultCount)
		return nil
	},
}

func formatLoad(load []float64) string {
	parts := make([]string, len(load))
	for i, l := range load {
		parts[i] = fmt.Sprintf("%.2f", l)
	}
	return strings.Join(parts, " ")
}

func formatUptime(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	return (time.Duration(seconds) * time.Second).Round(time.Minute).String()
}
