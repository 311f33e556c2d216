package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
)

// requeueDelay is how long the worker yields after putting a task back on
// the queue, giving the owner of the blocking precondition time to finish.
const requeueDelay = 2 * time.Second

// Worker consumes the main task queue one task at a time. Handlers check
// their preconditions before touching any state; a transiently false
// precondition requeues the identical task instead of retrying in place.
type Worker struct {
	reconciler       *Reconciler
	buildService     services.BuildService
	repoService      services.RepoService
	schedulerService services.SchedulerService
	buildEnvService  services.BuildEnvService
	queues           *queues.Queues
	clk              clock.Clock
	wg               sync.WaitGroup
	logger.Log
}

func NewWorker(
	reconciler *Reconciler,
	buildService services.BuildService,
	repoService services.RepoService,
	schedulerService services.SchedulerService,
	buildEnvService services.BuildEnvService,
	queues *queues.Queues,
	clk clock.Clock,
	logFactory logger.LogFactory) *Worker {

	return &Worker{
		reconciler:       reconciler,
		buildService:     buildService,
		repoService:      repoService,
		schedulerService: schedulerService,
		buildEnvService:  buildEnvService,
		queues:           queues,
		clk:              clk,
		Log:              logFactory("Worker"),
	}
}

// Start reconciles leftover state from the previous run and then consumes
// the task queue until it is closed and drained.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.reconciler.Run(ctx); err != nil {
			w.Errorf("Error reconciling leftover state: %s", err)
		}
		for {
			task := w.queues.Tasks.Dequeue()
			if task == nil {
				w.Infof("Got empty task, stopping")
				return
			}
			w.dispatch(ctx, task)
		}
	}()
}

// Stop waits for the task loop to drain the closed task queue.
func (w *Worker) Stop() {
	w.wg.Wait()
}

func (w *Worker) dispatch(ctx context.Context, task *models.Task) {
	defer func() {
		if r := recover(); r != nil {
			w.Errorf("Panic handling task %s: %v\n%s", task, r, debug.Stack())
		}
	}()

	switch task.Tag {
	case models.TaskClone:
		if err := w.repoService.StartClone(ctx, task); err != nil {
			w.Errorf("Error handling %s: %s", task, err)
		}
	case models.TaskBuild:
		w.run(ctx, task, w.buildService.StartBuildProcess)
	case models.TaskBuildLatest:
		w.run(ctx, task, w.repoService.BuildLatest)
	case models.TaskRebuild:
		if err := w.buildService.Rebuild(ctx, task.BuildID); err != nil {
			w.Errorf("Error handling %s: %s", task, err)
		}
	case models.TaskSchedule:
		// Scheduling walks the pending builds and must not block the queue.
		go func() {
			if err := w.schedulerService.ScheduleBuilds(ctx); err != nil {
				w.Errorf("Error scheduling builds: %s", err)
			}
		}()
	case models.TaskBuildEnv:
		w.run(ctx, task, w.buildEnvService.Start)
	case models.TaskMergeDuplicateRepo:
		w.run(ctx, task, w.repoService.MergeDuplicate)
	case models.TaskDeleteRepo:
		w.run(ctx, task, w.repoService.Delete)
	default:
		w.Errorf("Ignoring unknown task %q", task.Tag)
	}
}

// run invokes a handler that may report a transiently false precondition.
// The identical task goes back on the queue and the worker yields before the
// next dequeue, keeping fairness across tasks.
func (w *Worker) run(ctx context.Context, task *models.Task, handler func(context.Context, *models.Task) (bool, error)) {
	requeue, err := handler(ctx, task)
	if err != nil {
		w.Errorf("Error handling %s: %s", task, err)
	}
	if requeue {
		w.queues.Tasks.Enqueue(task)
		w.clk.Sleep(requeueDelay)
	}
}
