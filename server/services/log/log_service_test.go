package log_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/log"
	"github.com/molior-deb/molior/server/services/queues"
)

func newTestLogService(t *testing.T) (*log.LogService, *clock.Mock, *queues.BackendQueue, string) {
	t.Helper()
	dir := t.TempDir()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 5, 14, 2, 11, 0, time.UTC))
	backendQueue := queues.NewBackendQueue()
	service := log.NewLogService(logger.NoOpLogFactory, clk, services.WorkingDirectory(dir), backendQueue)
	return service, clk, backendQueue, dir
}

func readBuildLog(t *testing.T, dir string, buildID int64) string {
	t.Helper()
	buf, err := os.ReadFile(models.BuildLogPath(dir, buildID))
	require.NoError(t, err)
	return string(buf)
}

func TestBuildLogBannerFormat(t *testing.T) {
	service, _, _, dir := newTestLogService(t)

	service.Title(7, "Checking Repository", nil)
	service.Write(7, "I: fetching git tags\n")
	service.TitleDone(7)
	service.Stop()

	border := strings.Repeat("+", 80)
	want := "\x1b[36m\x1b[1m" + border + "\x1b[0m\n" +
		"\x1b[36m\x1b[1m| molior: Checking Repository                  Tue, 05 Mar 2024 14:02:11 +0000 |\x1b[0m\n" +
		"\x1b[36m\x1b[1m" + border + "\x1b[0m\n" +
		"\n" +
		"I: fetching git tags\n" +
		// The closing banner keeps the leading blank line and drops the
		// trailing one.
		"\n" +
		"\x1b[36m\x1b[1m" + border + "\x1b[0m\n" +
		"\x1b[36m\x1b[1m| molior: Done                                 Tue, 05 Mar 2024 14:02:11 +0000 |\x1b[0m\n" +
		"\x1b[36m\x1b[1m" + border + "\x1b[0m\n"

	assert.Equal(t, want, readBuildLog(t, dir, 7))
}

func TestBuildLogErrorBannerIsRed(t *testing.T) {
	service, _, _, dir := newTestLogService(t)

	service.Title(3, "Clone Repository", &services.TitleOptions{Error: true, NoHeaderNewline: true})
	service.Stop()

	got := readBuildLog(t, dir, 3)
	assert.Contains(t, got, "\x1b[31m\x1b[1m| molior: Clone Repository")
	assert.NotContains(t, got, "\x1b[36m")
}

func TestMarkDoneNotifiesBackendQueue(t *testing.T) {
	service, _, backendQueue, dir := newTestLogService(t)

	service.Write(11, "make: done\n")
	service.MarkDone(11)
	service.Write(11, "I: build for test 1.0 failed\n")
	service.Stop()

	require.Equal(t, 1, backendQueue.Len())
	event := backendQueue.Dequeue()
	assert.Equal(t, models.BackendLoggingDone, event.Kind)
	assert.Equal(t, int64(11), event.BuildID)

	// The mark does not close the log, later writes still arrive.
	got := readBuildLog(t, dir, 11)
	assert.Contains(t, got, "make: done\n")
	assert.Contains(t, got, "I: build for test 1.0 failed\n")
}

func TestBuildLogReopensAfterClose(t *testing.T) {
	service, _, _, dir := newTestLogService(t)

	service.Write(5, "first\n")
	service.Close(5)
	service.Write(5, "second\n")
	service.Stop()

	assert.Equal(t, "first\nsecond\n", readBuildLog(t, dir, 5))
}
