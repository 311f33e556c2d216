package main

import (
	"github.com/molior-deb/molior/cli/cmd/molior/commands"
	_ "github.com/molior-deb/molior/cli/cmd/molior/commands/maintenance"
	_ "github.com/molior-deb/molior/cli/cmd/molior/commands/nodes"
	_ "github.com/molior-deb/molior/cli/cmd/molior/commands/rebuild"
	_ "github.com/molior-deb/molior/cli/cmd/molior/commands/status"
	_ "github.com/molior-deb/molior/cli/cmd/molior/commands/trigger"
)

func main() {
	commands.Execute()
}
