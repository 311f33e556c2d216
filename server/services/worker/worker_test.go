package worker

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services/queues"
)

type stubScheduler struct {
	called chan struct{}
}

func (s *stubScheduler) ScheduleBuilds(ctx context.Context) error {
	s.called <- struct{}{}
	return nil
}

func TestRunRequeuesOnTransientPrecondition(t *testing.T) {
	qs := queues.NewQueues()
	clk := clock.NewMock()
	w := NewWorker(nil, nil, nil, nil, nil, qs, clk, logger.NoOpLogFactory)

	task := &models.Task{Tag: models.TaskBuild, BuildID: 1, RepoID: 1}
	handler := func(ctx context.Context, got *models.Task) (bool, error) {
		assert.Same(t, task, got)
		return true, nil
	}

	done := make(chan struct{})
	go func() {
		w.run(context.Background(), task, handler)
		close(done)
	}()

	// The identical task goes back on the queue first, then the worker
	// yields on the clock for the requeue delay.
	for qs.Tasks.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	deadline := time.After(5 * time.Second)
	for {
		clk.Add(requeueDelay)
		select {
		case <-done:
			assert.Same(t, task, qs.Tasks.Dequeue())
			return
		case <-deadline:
			t.Fatal("worker did not wake up from the requeue delay")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunDoesNotRequeueOnError(t *testing.T) {
	qs := queues.NewQueues()
	w := NewWorker(nil, nil, nil, nil, nil, qs, clock.New(), logger.NoOpLogFactory)

	handler := func(ctx context.Context, task *models.Task) (bool, error) {
		return false, errors.New("token exhausted")
	}
	w.run(context.Background(), &models.Task{Tag: models.TaskBuild, BuildID: 1, RepoID: 1}, handler)

	assert.Equal(t, 0, qs.Tasks.Len())
}

func TestDispatchRunsSchedulerInBackground(t *testing.T) {
	qs := queues.NewQueues()
	scheduler := &stubScheduler{called: make(chan struct{}, 1)}
	w := NewWorker(nil, nil, nil, scheduler, nil, qs, clock.New(), logger.NoOpLogFactory)

	w.dispatch(context.Background(), models.NewScheduleTask())

	select {
	case <-scheduler.called:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler was not invoked")
	}
}

func TestDispatchRecoversFromPanics(t *testing.T) {
	qs := queues.NewQueues()
	// The nil build service makes the rebuild handler panic.
	w := NewWorker(nil, nil, nil, nil, nil, qs, clock.New(), logger.NoOpLogFactory)

	assert.NotPanics(t, func() {
		w.dispatch(context.Background(), &models.Task{Tag: models.TaskRebuild, BuildID: 3})
	})
}

func TestDispatchIgnoresUnknownTasks(t *testing.T) {
	qs := queues.NewQueues()
	w := NewWorker(nil, nil, nil, nil, nil, qs, clock.New(), logger.NoOpLogFactory)

	assert.NotPanics(t, func() {
		w.dispatch(context.Background(), &models.Task{Tag: "bogus"})
	})
	assert.Equal(t, 0, qs.Tasks.Len())
}
