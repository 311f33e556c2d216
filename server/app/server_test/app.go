package server_test

import (
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/server/api/rest/server"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/backend"
	"github.com/molior-deb/molior/server/services/backend/fake_backend"
	"github.com/molior-deb/molior/server/services/notify"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/services/worker"
	"github.com/molior-deb/molior/server/store"
)

// TestServer exposes the wired stores and services to tests. Nothing is
// started; tests start the workers and the API server they need.
type TestServer struct {
	DB                  *store.DB
	Queues              *queues.Queues
	BuildStore          store.BuildStore
	BuildTaskStore      store.BuildTaskStore
	ChrootStore         store.ChrootStore
	HookStore           store.PostBuildHookStore
	MetaDataStore       store.MetaDataStore
	ProjectVersionStore store.ProjectVersionStore
	RepoStore           store.SourceRepositoryStore
	BuildService        services.BuildService
	RepoService         services.RepoService
	SchedulerService    services.SchedulerService
	BuildEnvService     services.BuildEnvService
	LogService          services.LogService
	GitService          services.GitService
	Backend             *fake_backend.Backend
	Notifier            *notify.Notifier
	Worker              *worker.Worker
	BackendWorker       *backend.Worker
	APIServer           *server.AppAPIServer
	LogFactory          logger.LogFactory
}

func NewTestServer(
	db *store.DB,
	queues *queues.Queues,
	buildStore store.BuildStore,
	buildTaskStore store.BuildTaskStore,
	chrootStore store.ChrootStore,
	hookStore store.PostBuildHookStore,
	metaDataStore store.MetaDataStore,
	projectVersionStore store.ProjectVersionStore,
	repoStore store.SourceRepositoryStore,
	buildService services.BuildService,
	repoService services.RepoService,
	schedulerService services.SchedulerService,
	buildEnvService services.BuildEnvService,
	logService services.LogService,
	gitService services.GitService,
	fakeBackend *fake_backend.Backend,
	notifier *notify.Notifier,
	worker *worker.Worker,
	backendWorker *backend.Worker,
	apiServer *server.AppAPIServer,
	logFactory logger.LogFactory,
) *TestServer {
	return &TestServer{
		DB:                  db,
		Queues:              queues,
		BuildStore:          buildStore,
		BuildTaskStore:      buildTaskStore,
		ChrootStore:         chrootStore,
		HookStore:           hookStore,
		MetaDataStore:       metaDataStore,
		ProjectVersionStore: projectVersionStore,
		RepoStore:           repoStore,
		BuildService:        buildService,
		RepoService:         repoService,
		SchedulerService:    schedulerService,
		BuildEnvService:     buildEnvService,
		LogService:          logService,
		GitService:          gitService,
		Backend:             fakeBackend,
		Notifier:            notifier,
		Worker:              worker,
		BackendWorker:       backendWorker,
		APIServer:           apiServer,
		LogFactory:          logFactory,
	}
}
