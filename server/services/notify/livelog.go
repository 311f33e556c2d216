package notify

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/store"
)

const livelogChunkSize = 16384

// buildLogger tails the log file of one build and streams it to a websocket
// client until the build finishes or the subscription stops. Chunks are sent
// as buildlog messages, followed by a final done message.
type buildLogger struct {
	client   *client
	buildID  int64
	builds   store.BuildStore
	path     string
	clk      clock.Clock
	done     chan struct{}
	stopOnce sync.Once
	logger.Log
}

func newBuildLogger(
	c *client,
	buildID int64,
	builds store.BuildStore,
	workingDir services.WorkingDirectory,
	clk clock.Clock,
	log logger.Log,
) *buildLogger {
	return &buildLogger{
		client:  c,
		buildID: buildID,
		builds:  builds,
		path:    models.BuildLogPath(workingDir.String(), buildID),
		clk:     clk,
		done:    make(chan struct{}),
		Log:     log,
	}
}

func (t *buildLogger) stop() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
}

func (t *buildLogger) stopping() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *buildLogger) run() {
	t.Debugf("Starting live log of build %d", t.buildID)
	defer t.sendDone()

	for !t.stopping() {
		file, err := os.Open(t.path)
		if err != nil {
			if os.IsNotExist(err) {
				// The log file appears once the build produces output.
				t.clk.Sleep(time.Second)
				if t.finished() {
					return
				}
				continue
			}
			t.Errorf("Error opening build log of build %d: %s", t.buildID, err)
			return
		}
		err = t.tail(file)
		file.Close()
		if err != nil {
			t.Errorf("Error streaming build log of build %d: %s", t.buildID, err)
		}
		return
	}
}

// tail reads the log in chunks and polls at EOF for more output, checking
// periodically whether the build reached a final state.
func (t *buildLogger) tail(file *os.File) error {
	buf := make([]byte, livelogChunkSize)
	retries := 0
	for !t.stopping() {
		n, err := file.Read(buf)
		if n > 0 {
			if sendErr := t.send(string(buf[:n])); sendErr != nil {
				return sendErr
			}
			continue
		}
		if err != nil && err != io.EOF {
			return err
		}
		if retries%100 == 0 {
			retries = 0
			if t.finished() {
				return nil
			}
		}
		retries++
		t.clk.Sleep(100 * time.Millisecond)
	}
	return nil
}

// finished reports whether the build reached a final state. Builds that
// disappeared count as finished.
func (t *buildLogger) finished() bool {
	build, err := t.builds.Read(context.Background(), nil, t.buildID)
	if err != nil {
		if !gerror.IsNotFound(err) {
			t.Errorf("Error reading build %d: %s", t.buildID, err)
		}
		return true
	}
	return build.State.HasFinished()
}

func (t *buildLogger) send(chunk string) error {
	data, err := json.Marshal(&models.WebsocketEvent{
		Subject: models.SubjectBuildLog,
		Event:   models.EventAdded,
		Data:    chunk,
	})
	if err != nil {
		return err
	}
	return t.client.send(data)
}

func (t *buildLogger) sendDone() {
	data, err := json.Marshal(&models.WebsocketEvent{
		Subject: models.SubjectBuildLog,
		Event:   models.EventDone,
	})
	if err == nil {
		err = t.client.send(data)
	}
	if err != nil {
		t.Debugf("Error sending live log done message for build %d: %s", t.buildID, err)
	}
}
