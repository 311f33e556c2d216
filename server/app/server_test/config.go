package server_test

import (
	"testing"

	"github.com/molior-deb/molior/server/api/rest/server"
	"github.com/molior-deb/molior/server/app"
	"github.com/molior-deb/molior/server/services"
)

// TestConfig returns a server configuration for tests. The database is wired
// separately through store_test.Connect, so no database settings appear here.
func TestConfig(t *testing.T) *app.ServerConfig {
	// Checkouts and build logs go to a temp directory
	workDir := t.TempDir()

	return &app.ServerConfig{
		APIConfig: server.AppAPIServerConfig{
			HTTPServerConfig: server.HTTPServerConfig{
				Address: "", // Test is expected to use httptest server which picks its own address
			},
		},
		WorkingDirectory:   services.WorkingDirectory(workDir),
		Hostname:           "molior-test",
		AptServerURL:       "http://molior-test:3142",
		GPGKeyURL:          "http://molior-test:3142/repo.asc",
		MaxParallelChroots: 1,
		LogLevels:          "",
	}
}
