package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
)

const backendName = "docker"

// Config selects the registry the per-distribution build images come from
// and the architectures this host builds for.
type Config struct {
	Registry      string   `yaml:"registry"`
	Architectures []string `yaml:"architectures"`
}

// Backend runs deb builds in docker containers on the server host. Each
// configured architecture gets one runner, so at most one build per
// architecture executes at a time.
type Backend struct {
	client   *client.Client
	queues   map[string]*queues.BuildRequestQueue
	events   *queues.BackendQueue
	logs     services.LogService
	registry string
	clk      clock.Clock
	wg       sync.WaitGroup

	mu   sync.Mutex
	busy map[string]bool

	logger.Log
}

// New connects to the docker daemon and starts one runner per configured
// architecture. The runners stop once Stop is called and the queued builds
// finished.
func New(ctx context.Context, config Config, logService services.LogService, backendQueue *queues.BackendQueue, clk clock.Clock, logFactory logger.LogFactory) (*Backend, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		return nil, errors.Wrap(err, "error creating docker client")
	}
	registry := config.Registry
	if registry == "" {
		registry = "localhost:5000"
	}
	b := &Backend{
		client:   dockerClient,
		queues:   make(map[string]*queues.BuildRequestQueue),
		events:   backendQueue,
		logs:     logService,
		registry: registry,
		clk:      clk,
		busy:     make(map[string]bool),
		Log:      logFactory("DockerBackend"),
	}
	for _, architecture := range config.Architectures {
		queue := queues.NewBuildRequestQueue()
		b.queues[architecture] = queue
		b.wg.Add(1)
		go b.run(ctx, architecture, queue)
	}
	if len(config.Architectures) > 0 {
		b.Infof("Docker backend provides nodes for %s", strings.Join(config.Architectures, ", "))
		backendQueue.Enqueue(&models.BackendEvent{Kind: models.BackendNodeRegistered})
	}
	return b, nil
}

func (b *Backend) Name() string {
	return backendName
}

// Build queues the job on the runner of its architecture.
func (b *Backend) Build(ctx context.Context, job *models.BuildRequest) error {
	queue, ok := b.queues[job.Architecture]
	if !ok {
		return gerror.NewErrValidationFailed(fmt.Sprintf("no docker node handles architecture %q", job.Architecture))
	}
	queue.Enqueue(job)
	return nil
}

func (b *Backend) Abort(ctx context.Context, buildID int64) error {
	b.Warnf("Aborting build %d: not implemented by the docker backend", buildID)
	return nil
}

func (b *Backend) HasIdleNode(architecture string) bool {
	queue, ok := b.queues[architecture]
	if !ok {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.busy[architecture] && queue.Len() == 0
}

func (b *Backend) GetNodesInfo(ctx context.Context) []*models.NodeInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	nodes := make([]*models.NodeInfo, 0, len(b.queues))
	for architecture := range b.queues {
		state := "idle"
		if b.busy[architecture] {
			state = "busy"
		}
		nodes = append(nodes, &models.NodeInfo{
			ID:           "docker-" + architecture,
			Name:         "docker-" + architecture,
			Architecture: architecture,
			State:        state,
		})
	}
	return nodes
}

// Stop closes the runner queues and waits for queued builds to finish.
func (b *Backend) Stop() {
	for _, queue := range b.queues {
		queue.Close()
	}
	b.wg.Wait()
}

func (b *Backend) setBusy(architecture string, busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy[architecture] = busy
}

func (b *Backend) run(ctx context.Context, architecture string, queue *queues.BuildRequestQueue) {
	defer b.wg.Done()
	for {
		job := queue.Dequeue()
		if job == nil {
			return
		}
		b.setBusy(architecture, true)
		b.events.Enqueue(&models.BackendEvent{Kind: models.BackendStarted, BuildID: job.BuildID})

		err := b.runContainer(ctx, job)
		// MarkDone emits the logging done event once all output is written.
		b.logs.MarkDone(job.BuildID)
		if err != nil {
			b.Errorf("Build %d failed: %s", job.BuildID, err)
			b.events.Enqueue(&models.BackendEvent{Kind: models.BackendFailed, BuildID: job.BuildID})
		} else {
			b.events.Enqueue(&models.BackendEvent{Kind: models.BackendSucceeded, BuildID: job.BuildID})
		}
		b.setBusy(architecture, false)
		b.clk.Sleep(time.Second)
	}
}

// runContainer executes one build in a fresh container of the distribution
// image and streams its output into the build log.
func (b *Backend) runContainer(ctx context.Context, job *models.BuildRequest) error {
	image := fmt.Sprintf("%s/molior:%s", b.registry, job.DistVersion)
	if err := b.pullImage(ctx, job.BuildID, image); err != nil {
		return err
	}

	containerConfig := &container.Config{
		Image: image,
		Env: []string{
			fmt.Sprintf("BUILD_ID=%d", job.BuildID),
			"BUILD_TOKEN=" + job.Token,
			"PLATFORM=" + job.DistRelease,
			"PLATFORM_VERSION=" + job.DistVersion,
			"ARCH=" + job.Architecture,
			"REPO_NAME=" + job.SourceName,
			"VERSION=" + job.Version,
			"PROJECT=" + job.Project,
			"PROJECTVERSION=" + job.ProjectVersion,
			"APT_SERVER=" + job.AptServer,
			"APT_URLS=" + job.AptURLs,
			"APT_KEYS=" + strings.Join(job.AptKeys, " "),
			fmt.Sprintf("RUN_LINTIAN=%t", job.RunLintian),
		},
	}
	// sbuild needs to mount inside the container
	hostConfig := &container.HostConfig{
		Privileged: true,
		AutoRemove: false,
	}
	created, err := b.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return errors.Wrap(err, "error creating build container")
	}
	defer func() {
		err := b.client.ContainerRemove(context.Background(), created.ID, types.ContainerRemoveOptions{RemoveVolumes: true, Force: true})
		if err != nil && !errdefs.IsNotFound(err) {
			b.Warnf("Error removing build container %s: %s", created.ID, err)
		}
	}()

	err = b.client.ContainerStart(ctx, created.ID, types.ContainerStartOptions{})
	if err != nil {
		return errors.Wrap(err, "error starting build container")
	}

	opts := types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Follow: true, Timestamps: false}
	reader, err := b.client.ContainerLogs(ctx, created.ID, opts)
	if err != nil {
		return errors.Wrap(err, "error connecting to container log stream")
	}
	defer reader.Close()

	// Stdout and stderr are multiplexed on one stream, both end up in the
	// build log.
	buildLog := &buildLogWriter{buildID: job.BuildID, logs: b.logs}
	if _, err := stdcopy.StdCopy(buildLog, buildLog, reader); err != nil && err != io.EOF {
		b.Warnf("Error reading container logs of build %d: %s", job.BuildID, err)
	}
	buildLog.flush()

	statusCh, errCh := b.client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return errors.Wrap(err, "error waiting for build container")
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return errors.Errorf("build container exited with status %d", status.StatusCode)
		}
	}
	return nil
}

// pullImage fetches the build image unless it is already in the local cache.
func (b *Backend) pullImage(ctx context.Context, buildID int64, image string) error {
	fil := filters.NewArgs()
	fil.Add("reference", image)
	list, err := b.client.ImageList(ctx, types.ImageListOptions{Filters: fil})
	if err != nil {
		return errors.Wrap(err, "error listing images")
	}
	if len(list) > 0 {
		return nil
	}

	b.logs.Printf(buildID, "I: pulling build image %s\n", image)
	stream, err := b.client.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return errors.Wrapf(err, "error pulling image %s", image)
	}
	defer stream.Close()
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return errors.Wrapf(err, "error pulling image %s", image)
	}
	return nil
}

// buildLogWriter splits a container output stream into lines appended to the
// log of one build.
type buildLogWriter struct {
	buildID int64
	logs    services.LogService
	buf     bytes.Buffer
}

func (w *buildLogWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		w.logs.Write(w.buildID, string(w.buf.Next(i+1)))
	}
	return len(p), nil
}

// flush writes a trailing unterminated line, if any.
func (w *buildLogWriter) flush() {
	if w.buf.Len() > 0 {
		w.logs.Write(w.buildID, w.buf.String()+"\n")
		w.buf.Reset()
	}
}
