package build

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/molior-deb/molior/server/services"
)

func TestForcedTargets(t *testing.T) {
	targets := forcedTargets([]string{"myproject/next", "stable"})

	assert.Equal(t, []services.Target{
		{Project: "myproject", Version: "next"},
		{Version: "stable"},
	}, targets)
}

func TestForcedTargetsEmpty(t *testing.T) {
	assert.Nil(t, forcedTargets(nil))
}
