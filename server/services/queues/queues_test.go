package queues_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services/queues"
)

func TestTaskQueueOrder(t *testing.T) {
	q := queues.NewTaskQueue()
	first := &models.Task{Tag: models.TaskClone, BuildID: 1, RepoID: 1}
	second := &models.Task{Tag: models.TaskBuild, BuildID: 2, RepoID: 1}
	third := models.NewScheduleTask()

	q.Enqueue(first)
	q.Enqueue(second)
	q.Enqueue(third)
	assert.Equal(t, 3, q.Len())

	assert.Same(t, first, q.Dequeue())
	assert.Same(t, second, q.Dequeue())
	assert.Same(t, third, q.Dequeue())
	assert.Equal(t, 0, q.Len())
}

func TestTaskQueueBlocksUntilEnqueue(t *testing.T) {
	q := queues.NewTaskQueue()
	got := make(chan *models.Task)
	go func() {
		got <- q.Dequeue()
	}()

	select {
	case task := <-got:
		t.Fatalf("dequeue returned %v before anything was enqueued", task)
	case <-time.After(50 * time.Millisecond):
	}

	want := models.NewScheduleTask()
	q.Enqueue(want)
	select {
	case task := <-got:
		assert.Same(t, want, task)
	case <-time.After(5 * time.Second):
		t.Fatal("dequeue did not wake up after enqueue")
	}
}

func TestTaskQueueNilTerminates(t *testing.T) {
	q := queues.NewTaskQueue()
	q.Enqueue(&models.Task{Tag: models.TaskSchedule})
	q.Enqueue(nil)

	// Items enqueued before the close are still delivered.
	task := q.Dequeue()
	require.NotNil(t, task)
	assert.Equal(t, models.TaskSchedule, task.Tag)

	assert.Nil(t, q.Dequeue())
	assert.Nil(t, q.Dequeue())
}

func TestTaskQueueCloseWakesBlockedConsumers(t *testing.T) {
	q := queues.NewTaskQueue()
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			assert.Nil(t, q.Dequeue())
			done <- struct{}{}
		}()
	}

	q.Close()
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not wake up after close")
		}
	}
}

func TestQueueEnqueueAfterCloseIsDropped(t *testing.T) {
	q := queues.NewQueue()
	q.Close()
	q.Enqueue("late")
	assert.Equal(t, 0, q.Len())

	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestQueuesCloseAll(t *testing.T) {
	qs := queues.NewQueues()
	qs.Backend.Enqueue(&models.BackendEvent{Kind: models.BackendNodeRegistered})
	qs.Close()

	event := qs.Backend.Dequeue()
	require.NotNil(t, event)
	assert.Equal(t, models.BackendNodeRegistered, event.Kind)

	assert.Nil(t, qs.Tasks.Dequeue())
	assert.Nil(t, qs.Publish.Dequeue())
	assert.Nil(t, qs.Backend.Dequeue())
	assert.Nil(t, qs.Notifications.Dequeue())
}
