package integration_tests

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/app/server_test"
)

func readEvent(t *testing.T, conn *websocket.Conn) *models.WebsocketEvent {
	t.Helper()
	event := &models.WebsocketEvent{}
	require.NoError(t, conn.ReadJSON(event))
	return event
}

func TestWebsocketEventsAndLiveLog(t *testing.T) {
	ctx := context.Background()
	config := server_test.TestConfig(t)
	app, cleanup, err := server_test.New(config)
	require.Nil(t, err)
	defer cleanup()

	app.APIServer.Start()
	defer app.APIServer.Stop(ctx)
	app.Notifier.Start(ctx)
	defer func() {
		app.Queues.Notifications.Close()
		app.Notifier.Stop()
	}()

	wsURL := "ws" + strings.TrimPrefix(app.APIServer.GetServerURL(), "http") + "/api/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// The server greets new clients
	event := readEvent(t, conn)
	assert.Equal(t, models.SubjectWebsocket, event.Subject)
	assert.Equal(t, models.EventConnected, event.Event)

	// A build state change is broadcast to all connected clients
	repo := server_test.CreateRepo(t, ctx, app)
	build := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateNew)
	err = app.BuildService.SetBuilding(ctx, nil, build.ID)
	require.NoError(t, err)

	event = readEvent(t, conn)
	assert.Equal(t, models.SubjectBuild, event.Subject)
	assert.Equal(t, models.EventChanged, event.Event)
	data, ok := event.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(build.ID), data["id"])
	assert.Equal(t, "building", data["buildstate"])

	// Subscribing to the log of a finished build streams the stored output
	// followed by a done marker
	finished := server_test.CreateBuild(t, ctx, app, repo, models.BuildTypeBuild, models.BuildStateSuccessful)
	logPath := models.BuildLogPath(config.WorkingDirectory.String(), finished.ID)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte("I: building package\nI: done\n"), 0o644))

	err = conn.WriteJSON(map[string]interface{}{
		"subject": models.SubjectBuildLog,
		"action":  models.ActionStart,
		"data":    map[string]interface{}{"build_id": finished.ID},
	})
	require.NoError(t, err)

	event = readEvent(t, conn)
	assert.Equal(t, models.SubjectBuildLog, event.Subject)
	assert.Equal(t, models.EventAdded, event.Event)
	assert.Equal(t, "I: building package\nI: done\n", event.Data)

	event = readEvent(t, conn)
	assert.Equal(t, models.SubjectBuildLog, event.Subject)
	assert.Equal(t, models.EventDone, event.Event)
}
