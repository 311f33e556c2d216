package build

import (
	"context"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/shell"
	"github.com/molior-deb/molior/server/services"
)

// DebPackager builds Debian source packages with dpkg-buildpackage.
type DebPackager struct {
	logService services.LogService
	logger.Log
}

func NewDebPackager(logFactory logger.LogFactory, logService services.LogService) *DebPackager {
	return &DebPackager{
		logService: logService,
		Log:        logFactory("DebPackager"),
	}
}

// BuildSourcePackage runs the source package build in the checkout
// directory, streaming output to the log of the given build. Binary packages
// are built on the nodes, so only the source package is produced here.
func (p *DebPackager) BuildSourcePackage(ctx context.Context, buildID int64, sourceDir string) error {
	out := func(line string) {
		p.logService.Write(buildID, line+"\n")
	}
	return shell.Run(ctx, out, sourceDir, nil, true,
		"dpkg-buildpackage", "-S", "-d", "-nc", "-us", "-uc", "-I.git")
}
