package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
)

// bannerTimeFormat renders timestamps inside log banners, e.g.
// "Tue, 05 Mar 2024 14:02:11 +0100".
const bannerTimeFormat = "Mon, 02 Jan 2006 15:04:05 -0700"

type messageKind int

const (
	messageWrite messageKind = iota
	// messageMark signals the end of build output without closing the log.
	messageMark
	// messageClose stops the writer and closes the log file.
	messageClose
)

type message struct {
	kind messageKind
	text string
}

// LogService appends build output to the per-build log files. Each build
// with open output owns one writer goroutine, so concurrent producers never
// interleave partial writes and every write hits the disk in order.
type LogService struct {
	logger.Log
	clk          clock.Clock
	workingDir   services.WorkingDirectory
	backendQueue *queues.BackendQueue

	mu      sync.Mutex
	writers map[int64]*queues.Queue
	wg      sync.WaitGroup
}

func NewLogService(
	logFactory logger.LogFactory,
	clk clock.Clock,
	workingDir services.WorkingDirectory,
	backendQueue *queues.BackendQueue) *LogService {

	return &LogService{
		Log:          logFactory("LogService"),
		clk:          clk,
		workingDir:   workingDir,
		backendQueue: backendQueue,
		writers:      make(map[int64]*queues.Queue),
	}
}

// Write appends text verbatim to the log of the given build.
func (l *LogService) Write(buildID int64, text string) {
	l.queue(buildID).Enqueue(message{kind: messageWrite, text: text})
}

// Printf formats and appends text to the log of the given build.
func (l *LogService) Printf(buildID int64, format string, args ...interface{}) {
	l.Write(buildID, fmt.Sprintf(format, args...))
}

// Title appends a banner with the given title to the log of the build.
// A nil opts renders the default banner without a leading blank line.
func (l *LogService) Title(buildID int64, title string, opts *services.TitleOptions) {
	if opts == nil {
		opts = &services.TitleOptions{NoHeaderNewline: true}
	}
	color := 36
	if opts.Error {
		color = 31
	}
	header := "\n"
	if opts.NoHeaderNewline {
		header = ""
	}
	footer := "\n"
	if opts.NoFooterNewline {
		footer = ""
	}
	border := strings.Repeat("+", 80)
	now := l.clk.Now().Format(bannerTimeFormat)

	banner := fmt.Sprintf("%s\x1b[%dm\x1b[1m%s\x1b[0m\n", header, color, border) +
		fmt.Sprintf("\x1b[%dm\x1b[1m| molior: %-36s %s |\x1b[0m\n", color, title, now) +
		fmt.Sprintf("\x1b[%dm\x1b[1m%s\x1b[0m\n", color, border) +
		footer
	l.Write(buildID, banner)
}

// TitleDone appends the closing "Done" banner.
func (l *LogService) TitleDone(buildID int64) {
	l.Title(buildID, "Done", &services.TitleOptions{NoFooterNewline: true})
}

// MarkDone signals that no more build output will arrive for the build and
// notifies the backend queue. The log stays open for banners written during
// finalization.
func (l *LogService) MarkDone(buildID int64) {
	l.queue(buildID).Enqueue(message{kind: messageMark})
}

// Close stops the writer of the build and closes its log file.
func (l *LogService) Close(buildID int64) {
	l.queue(buildID).Enqueue(message{kind: messageClose})
}

// Stop closes all open build logs and waits for their writers to exit.
func (l *LogService) Stop() {
	l.mu.Lock()
	for _, q := range l.writers {
		q.Enqueue(message{kind: messageClose})
	}
	l.mu.Unlock()
	l.wg.Wait()
}

// queue returns the message queue of the build's writer, starting the
// writer first if the build has no open log.
func (l *LogService) queue(buildID int64) *queues.Queue {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.writers[buildID]
	if !ok {
		q = queues.NewQueue()
		l.writers[buildID] = q
		l.wg.Add(1)
		go l.write(buildID, q)
	}
	return q
}

func (l *LogService) write(buildID int64, q *queues.Queue) {
	defer l.wg.Done()

	path := models.BuildLogPath(l.workingDir.String(), buildID)
	var file *os.File
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		l.Errorf("error creating buildout directory for build %d: %s", buildID, err)
	} else {
		file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			l.Errorf("error opening build log for build %d: %s", buildID, err)
		}
	}

loop:
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		msg := item.(message)
		switch msg.kind {
		case messageMark:
			// The backend worker terminates the build once both the outcome
			// and the end of the log stream arrived.
			l.backendQueue.Enqueue(&models.BackendEvent{Kind: models.BackendLoggingDone, BuildID: buildID})
		case messageClose:
			break loop
		case messageWrite:
			if file == nil {
				continue
			}
			if _, err := file.WriteString(msg.text); err != nil {
				l.Errorf("error writing build log for build %d: %s", buildID, err)
				continue
			}
			// Readers tail the file while the build runs, keep it current.
			file.Sync()
		}
	}

	if file != nil {
		file.Close()
	}
	l.mu.Lock()
	if l.writers[buildID] == q {
		delete(l.writers, buildID)
	}
	l.mu.Unlock()
}
