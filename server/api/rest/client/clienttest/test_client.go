package clienttest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/server/api/rest/client"
	"github.com/molior-deb/molior/server/app/server_test"
)

// MakeAPIClient creates an API client that can be used to communicate with
// the given test server. The server's API server must have been started.
func MakeAPIClient(t *testing.T, app *server_test.TestServer) *client.APIClient {
	apiClient, err := client.NewAPIClient([]string{app.APIServer.GetServerURL()}, app.LogFactory)
	require.Nil(t, err)
	return apiClient
}
