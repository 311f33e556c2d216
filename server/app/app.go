package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/api/rest/server"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/backend"
	"github.com/molior-deb/molior/server/services/notify"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/services/worker"
	"github.com/molior-deb/molior/server/store"
)

// Weekly cleanup settings live in the metadata table so they can be changed
// without restarting the server.
const (
	cleanupActiveKey  = "cleanup_active"
	cleanupWeekdayKey = "cleanup_weekday"
	cleanupTimeKey    = "cleanup_time"
)

type Server struct {
	Queues        *queues.Queues
	MetaDataStore store.MetaDataStore
	LogService    services.LogService
	Backend       services.Backend
	Notifier      *notify.Notifier
	Worker        *worker.Worker
	BackendWorker *backend.Worker
	APIServer     *server.AppAPIServer

	cleanupCron *cron.Cron
	wg          sync.WaitGroup
	log         logger.Log
}

func NewServer(
	queues *queues.Queues,
	metaDataStore store.MetaDataStore,
	logService services.LogService,
	buildBackend services.Backend,
	notifier *notify.Notifier,
	worker *worker.Worker,
	backendWorker *backend.Worker,
	apiServer *server.AppAPIServer,
	logFactory logger.LogFactory,
) *Server {
	return &Server{
		Queues:        queues,
		MetaDataStore: metaDataStore,
		LogService:    logService,
		Backend:       buildBackend,
		Notifier:      notifier,
		Worker:        worker,
		BackendWorker: backendWorker,
		APIServer:     apiServer,
		cleanupCron:   cron.New(),
		log:           logFactory("Server"),
	}
}

// Start brings up the workers and then the API server. The build backend is
// already running at this point, its node runners start with the process.
func (s *Server) Start(ctx context.Context) {
	s.Notifier.Start(ctx)
	s.BackendWorker.Start(ctx)
	s.Worker.Start(ctx)
	s.wg.Add(1)
	go s.drainPublishRequests()
	s.scheduleWeeklyCleanup(ctx)
	s.APIServer.Start()
}

// Stop closes the queues, waits for the workers to drain them, stops the
// backend and finally shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("terminating tasks")
	s.cleanupCron.Stop()
	s.Queues.Close()
	s.Worker.Stop()
	s.BackendWorker.Stop()
	s.Notifier.Stop()
	s.wg.Wait()
	s.log.Info("terminating backend")
	s.Backend.Stop()
	s.LogService.Stop()
	s.log.Info("terminating app")
	return s.APIServer.Stop(ctx)
}

// drainPublishRequests hands publish requests over to the apt archive.
// Delivery and completion are owned by the archive collaborator, the server
// only records the handoff.
func (s *Server) drainPublishRequests() {
	defer s.wg.Done()
	for {
		request := s.Queues.Publish.Dequeue()
		if request == nil {
			return
		}
		if request.BuildID != 0 {
			s.log.Infof("Publish request: %s for build %d", request.Action, request.BuildID)
		} else {
			s.log.Infof("Publish request: %s", request.Action)
		}
	}
}

// scheduleWeeklyCleanup arms one cron entry per configured weekday asking the
// apt archive to drop superseded packages.
func (s *Server) scheduleWeeklyCleanup(ctx context.Context) {
	active, err := s.MetaDataStore.Get(ctx, nil, cleanupActiveKey, "false")
	if err != nil {
		s.log.Errorf("Error reading cleanup settings: %s", err)
		return
	}
	if active != "true" {
		s.log.Info("cleanup job disabled")
		return
	}
	weekdays, err := s.MetaDataStore.Get(ctx, nil, cleanupWeekdayKey, "")
	if err != nil {
		s.log.Errorf("Error reading cleanup settings: %s", err)
		return
	}
	timeOfDay, err := s.MetaDataStore.Get(ctx, nil, cleanupTimeKey, "")
	if err != nil {
		s.log.Errorf("Error reading cleanup settings: %s", err)
		return
	}
	at, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		s.log.Warnf("Ignoring cleanup job, invalid cleanup time %q: %s", timeOfDay, err)
		return
	}
	armed := false
	for _, weekday := range strings.Split(weekdays, ", ") {
		// The cron parser wants the three letter day names.
		day := strings.ToLower(strings.TrimSpace(weekday))
		if len(day) > 3 {
			day = day[:3]
		}
		spec := fmt.Sprintf("%d %d * * %s", at.Minute(), at.Hour(), day)
		_, err := s.cleanupCron.AddFunc(spec, func() {
			s.log.Info("running weekly cleanup")
			s.Queues.Publish.Enqueue(&models.PublishRequest{Action: models.PublishCleanup})
		})
		if err != nil {
			s.log.Warnf("Ignoring cleanup weekday %q: %s", weekday, err)
			continue
		}
		armed = true
	}
	if !armed {
		s.log.Info("cleanup job disabled")
		return
	}
	s.log.Infof("cleanup job enabled for every %s at %s", weekdays, timeOfDay)
	s.cleanupCron.Start()
}
