package queues

import (
	"sync"

	"github.com/molior-deb/molior/common/models"
)

// fifo is an unbounded in-memory queue. Enqueue never blocks, Dequeue blocks
// until an item arrives or the queue is closed and drained.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []interface{}
	closed bool
}

func newFIFO() *fifo {
	q := &fifo{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *fifo) enqueue(item interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// dequeue blocks until an item is available. ok is false once the queue has
// been closed and all items enqueued before the close were consumed.
func (q *fifo) dequeue() (item interface{}, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

func (q *fifo) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Queue is an untyped unbounded queue for package internal message streams,
// e.g. the per-build log writers.
type Queue struct {
	q *fifo
}

func NewQueue() *Queue {
	return &Queue{q: newFIFO()}
}

func (q *Queue) Enqueue(item interface{}) {
	q.q.enqueue(item)
}

// Dequeue blocks until an item is available. ok is false once the queue is
// closed and drained.
func (q *Queue) Dequeue() (item interface{}, ok bool) {
	return q.q.dequeue()
}

func (q *Queue) Close() {
	q.q.close()
}

func (q *Queue) Len() int {
	return q.q.len()
}

// TaskQueue feeds the main worker.
type TaskQueue struct {
	q *fifo
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{q: newFIFO()}
}

// Enqueue adds a task. A nil task closes the queue and terminates the worker.
func (q *TaskQueue) Enqueue(task *models.Task) {
	if task == nil {
		q.q.close()
		return
	}
	q.q.enqueue(task)
}

// Dequeue blocks until a task is available. Returns nil once the queue is
// closed and drained.
func (q *TaskQueue) Dequeue() *models.Task {
	item, ok := q.q.dequeue()
	if !ok {
		return nil
	}
	return item.(*models.Task)
}

func (q *TaskQueue) Close() {
	q.q.close()
}

func (q *TaskQueue) Len() int {
	return q.q.len()
}

// BackendQueue carries backend instructions and node progress reports.
type BackendQueue struct {
	q *fifo
}

func NewBackendQueue() *BackendQueue {
	return &BackendQueue{q: newFIFO()}
}

// Enqueue adds an event. A nil event closes the queue.
func (q *BackendQueue) Enqueue(event *models.BackendEvent) {
	if event == nil {
		q.q.close()
		return
	}
	q.q.enqueue(event)
}

// Dequeue blocks until an event is available. Returns nil once the queue is
// closed and drained.
func (q *BackendQueue) Dequeue() *models.BackendEvent {
	item, ok := q.q.dequeue()
	if !ok {
		return nil
	}
	return item.(*models.BackendEvent)
}

func (q *BackendQueue) Close() {
	q.q.close()
}

func (q *BackendQueue) Len() int {
	return q.q.len()
}

// PublishQueue feeds the apt repository collaborator.
type PublishQueue struct {
	q *fifo
}

func NewPublishQueue() *PublishQueue {
	return &PublishQueue{q: newFIFO()}
}

// Enqueue adds a publish request. A nil request closes the queue.
func (q *PublishQueue) Enqueue(request *models.PublishRequest) {
	if request == nil {
		q.q.close()
		return
	}
	q.q.enqueue(request)
}

// Dequeue blocks until a request is available. Returns nil once the queue is
// closed and drained.
func (q *PublishQueue) Dequeue() *models.PublishRequest {
	item, ok := q.q.dequeue()
	if !ok {
		return nil
	}
	return item.(*models.PublishRequest)
}

func (q *PublishQueue) Close() {
	q.q.close()
}

func (q *PublishQueue) Len() int {
	return q.q.len()
}

// NotificationQueue feeds websocket broadcasts and post build hooks.
type NotificationQueue struct {
	q *fifo
}

func NewNotificationQueue() *NotificationQueue {
	return &NotificationQueue{q: newFIFO()}
}

// Enqueue adds a notification. A nil notification closes the queue.
func (q *NotificationQueue) Enqueue(notification *models.Notification) {
	if notification == nil {
		q.q.close()
		return
	}
	q.q.enqueue(notification)
}

// Dequeue blocks until a notification is available. Returns nil once the
// queue is closed and drained.
func (q *NotificationQueue) Dequeue() *models.Notification {
	item, ok := q.q.dequeue()
	if !ok {
		return nil
	}
	return item.(*models.Notification)
}

func (q *NotificationQueue) Close() {
	q.q.close()
}

func (q *NotificationQueue) Len() int {
	return q.q.len()
}

// BuildRequestQueue carries build requests to the node runners of a backend.
type BuildRequestQueue struct {
	q *fifo
}

func NewBuildRequestQueue() *BuildRequestQueue {
	return &BuildRequestQueue{q: newFIFO()}
}

// Enqueue adds a build request. A nil request closes the queue and
// terminates its runner.
func (q *BuildRequestQueue) Enqueue(job *models.BuildRequest) {
	if job == nil {
		q.q.close()
		return
	}
	q.q.enqueue(job)
}

// Dequeue blocks until a request is available. Returns nil once the queue is
// closed and drained.
func (q *BuildRequestQueue) Dequeue() *models.BuildRequest {
	item, ok := q.q.dequeue()
	if !ok {
		return nil
	}
	return item.(*models.BuildRequest)
}

func (q *BuildRequestQueue) Close() {
	q.q.close()
}

func (q *BuildRequestQueue) Len() int {
	return q.q.len()
}

// Queues bundles the process wide queues connecting the API, the worker,
// the backend and the notifier.
type Queues struct {
	Tasks         *TaskQueue
	Publish       *PublishQueue
	Backend       *BackendQueue
	Notifications *NotificationQueue
}

func NewQueues() *Queues {
	return &Queues{
		Tasks:         NewTaskQueue(),
		Publish:       NewPublishQueue(),
		Backend:       NewBackendQueue(),
		Notifications: NewNotificationQueue(),
	}
}

// Close closes all queues, terminating their consumers once drained.
func (q *Queues) Close() {
	q.Tasks.Close()
	q.Publish.Close()
	q.Backend.Close()
	q.Notifications.Close()
}
