// Package fake_backend provides an in-memory build backend for tests. Jobs
// are recorded instead of executed and the node state is set by the test.
package fake_backend

import (
	"context"
	"sync"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services/queues"
)

type Backend struct {
	events *queues.BackendQueue

	mu       sync.Mutex
	jobs     []*models.BuildRequest
	aborted  []int64
	nodes    []*models.NodeInfo
	idle     map[string]bool
	idleHook func(architecture string)
}

func New(backendQueue *queues.BackendQueue) *Backend {
	return &Backend{
		events: backendQueue,
		idle:   make(map[string]bool),
	}
}

func (b *Backend) Name() string {
	return "fake"
}

// Build records the handed over job. Progress events are sent when the test
// calls the Report helpers.
func (b *Backend) Build(ctx context.Context, job *models.BuildRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs = append(b.jobs, job)
	return nil
}

func (b *Backend) Abort(ctx context.Context, buildID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = append(b.aborted, buildID)
	return nil
}

func (b *Backend) HasIdleNode(architecture string) bool {
	b.mu.Lock()
	hook := b.idleHook
	idle := b.idle[architecture]
	b.mu.Unlock()
	if hook != nil {
		hook(architecture)
	}
	return idle
}

func (b *Backend) GetNodesInfo(ctx context.Context) []*models.NodeInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*models.NodeInfo{}, b.nodes...)
}

func (b *Backend) Stop() {}

// SetIdleHook installs a callback invoked on every HasIdleNode call. Tests
// use it to pause a scheduling pass at the idle check.
func (b *Backend) SetIdleHook(hook func(architecture string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idleHook = hook
}

// SetIdle declares whether a node is available for the architecture.
func (b *Backend) SetIdle(architecture string, idle bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idle[architecture] = idle
}

// AddNode seeds a node the backend reports via GetNodesInfo.
func (b *Backend) AddNode(node *models.NodeInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = append(b.nodes, node)
}

// Jobs returns the build requests handed over so far.
func (b *Backend) Jobs() []*models.BuildRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*models.BuildRequest{}, b.jobs...)
}

// Aborted returns the build ids Abort was called for.
func (b *Backend) Aborted() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64{}, b.aborted...)
}

// ReportStarted enqueues the event a node sends when it picks up a build.
func (b *Backend) ReportStarted(buildID int64) {
	b.events.Enqueue(&models.BackendEvent{Kind: models.BackendStarted, BuildID: buildID})
}

// ReportSucceeded enqueues the event a node sends when the build succeeded.
func (b *Backend) ReportSucceeded(buildID int64) {
	b.events.Enqueue(&models.BackendEvent{Kind: models.BackendSucceeded, BuildID: buildID})
}

// ReportFailed enqueues the event a node sends when the build failed.
func (b *Backend) ReportFailed(buildID int64) {
	b.events.Enqueue(&models.BackendEvent{Kind: models.BackendFailed, BuildID: buildID})
}

// ReportLoggingDone enqueues the event a node sends once the whole build log
// has been uploaded.
func (b *Backend) ReportLoggingDone(buildID int64) {
	b.events.Enqueue(&models.BackendEvent{Kind: models.BackendLoggingDone, BuildID: buildID})
}
