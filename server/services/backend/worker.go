package backend

import (
	"context"
	"sync"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/store"
)

// Worker consumes the backend queue. Schedule instructions are handed to the
// configured backend, progress reports from the build nodes drive the build
// state machine. A deb build terminates once both its outcome and the end of
// its log stream arrived, in either order.
type Worker struct {
	backend        services.Backend
	buildStore     store.BuildStore
	buildTaskStore store.BuildTaskStore
	buildService   services.BuildService
	logService     services.LogService
	queues         *queues.Queues
	wg             sync.WaitGroup

	// outcomes and loggingDone pair the two reports a build terminates on.
	// Only the worker goroutine touches them.
	outcomes    map[int64]bool
	loggingDone map[int64]bool

	logger.Log
}

func NewWorker(
	backend services.Backend,
	buildStore store.BuildStore,
	buildTaskStore store.BuildTaskStore,
	buildService services.BuildService,
	logService services.LogService,
	queues *queues.Queues,
	logFactory logger.LogFactory,
) *Worker {
	return &Worker{
		backend:        backend,
		buildStore:     buildStore,
		buildTaskStore: buildTaskStore,
		buildService:   buildService,
		logService:     logService,
		queues:         queues,
		outcomes:       make(map[int64]bool),
		loggingDone:    make(map[int64]bool),
		Log:            logFactory("BackendWorker"),
	}
}

// Start runs the event loop until the backend queue is closed and drained.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			event := w.queues.Backend.Dequeue()
			if event == nil {
				w.Infof("Backend queue closed; stopping")
				return
			}
			w.handle(ctx, event)
		}
	}()
}

// Stop waits for the event loop to drain the closed backend queue.
func (w *Worker) Stop() {
	w.wg.Wait()
}

func (w *Worker) handle(ctx context.Context, event *models.BackendEvent) {
	switch event.Kind {
	case models.BackendSchedule:
		w.schedule(ctx, event.Job)
	case models.BackendStarted:
		w.started(ctx, event.BuildID)
	case models.BackendSucceeded:
		w.recordOutcome(event.BuildID, true)
	case models.BackendFailed:
		w.recordOutcome(event.BuildID, false)
	case models.BackendLoggingDone:
		w.recordLoggingDone(event.BuildID)
	case models.BackendTerminate:
		w.terminate(ctx, event.BuildID)
	case models.BackendAbort:
		if err := w.backend.Abort(ctx, event.BuildID); err != nil {
			w.Errorf("Error aborting build %d: %s", event.BuildID, err)
		}
	case models.BackendNodeRegistered:
		w.Infof("Node registered; scheduling builds")
		w.queues.Tasks.Enqueue(models.NewScheduleTask())
	default:
		w.Errorf("Ignoring unknown backend event %q", event.Kind)
	}
}

func (w *Worker) schedule(ctx context.Context, job *models.BuildRequest) {
	if job == nil {
		w.Errorf("Ignoring schedule event without a job")
		return
	}
	err := w.backend.Build(ctx, job)
	if err == nil {
		return
	}
	w.Errorf("Error handing build %d to the %s backend: %s", job.BuildID, w.backend.Name(), err)
	w.fail(ctx, job.BuildID)
}

func (w *Worker) started(ctx context.Context, buildID int64) {
	build, err := w.buildStore.Read(ctx, nil, buildID)
	if err != nil {
		w.Errorf("Error reading started build %d: %s", buildID, err)
		return
	}
	top, err := w.topOf(ctx, build)
	if err != nil {
		w.Errorf("Error reading top-level build of build %d: %s", buildID, err)
	} else {
		w.logService.Printf(top.ID, "I: started build for %s %s\n", build.SourceName, build.Version)
	}
	if err := w.buildService.SetBuilding(ctx, nil, buildID); err != nil {
		w.Errorf("Error setting build %d building: %s", buildID, err)
	}
}

// recordOutcome stores the result a node reported for a build. The build
// terminates once the end of its log stream was reported as well.
func (w *Worker) recordOutcome(buildID int64, succeeded bool) {
	w.outcomes[buildID] = succeeded
	if w.loggingDone[buildID] {
		w.queues.Backend.Enqueue(&models.BackendEvent{Kind: models.BackendTerminate, BuildID: buildID})
	}
}

func (w *Worker) recordLoggingDone(buildID int64) {
	w.loggingDone[buildID] = true
	if _, ok := w.outcomes[buildID]; ok {
		w.queues.Backend.Enqueue(&models.BackendEvent{Kind: models.BackendTerminate, BuildID: buildID})
	}
}

func (w *Worker) terminate(ctx context.Context, buildID int64) {
	succeeded, ok := w.outcomes[buildID]
	if !ok || !w.loggingDone[buildID] {
		w.Warnf("Ignoring premature terminate event for build %d", buildID)
		return
	}
	delete(w.outcomes, buildID)
	delete(w.loggingDone, buildID)

	if succeeded {
		if err := w.buildService.SetNeedsPublish(ctx, nil, buildID); err != nil {
			w.Errorf("Error setting build %d needs publish: %s", buildID, err)
			return
		}
		w.queues.Publish.Enqueue(&models.PublishRequest{Action: models.PublishBinaryPackages, BuildID: buildID})
		return
	}
	w.fail(ctx, buildID)
	w.logService.Close(buildID)
}

// fail marks a deb build failed after the node gave up on it, releasing its
// build task token so a rebuild gets a fresh one.
func (w *Worker) fail(ctx context.Context, buildID int64) {
	build, err := w.buildStore.Read(ctx, nil, buildID)
	if err != nil {
		w.Errorf("Error reading failed build %d: %s", buildID, err)
		return
	}
	top, err := w.topOf(ctx, build)
	if err != nil {
		w.Errorf("Error reading top-level build of build %d: %s", buildID, err)
	} else {
		w.logService.Printf(top.ID, "I: build for %s %s failed\n", build.SourceName, build.Version)
	}
	if err := w.buildService.SetFailed(ctx, nil, buildID); err != nil {
		w.Errorf("Error setting build %d failed: %s", buildID, err)
	}
	if _, err := w.buildTaskStore.DeleteForBuild(ctx, nil, buildID); err != nil {
		w.Errorf("Error deleting build task of build %d: %s", buildID, err)
	}
}

// topOf walks up to the top-level build a deb build reports under.
func (w *Worker) topOf(ctx context.Context, build *models.Build) (*models.Build, error) {
	if build.ParentID == nil {
		return build, nil
	}
	parent, err := w.buildStore.Read(ctx, nil, *build.ParentID)
	if err != nil {
		return nil, err
	}
	if parent.ParentID == nil {
		return parent, nil
	}
	return w.buildStore.Read(ctx, nil, *parent.ParentID)
}
