//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/wire"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/server/api/rest/server"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/backend"
	"github.com/molior-deb/molior/server/services/build"
	"github.com/molior-deb/molior/server/services/buildenv"
	"github.com/molior-deb/molior/server/services/git"
	"github.com/molior-deb/molior/server/services/log"
	"github.com/molior-deb/molior/server/services/notify"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/services/repo"
	"github.com/molior-deb/molior/server/services/scheduler"
	"github.com/molior-deb/molior/server/services/worker"
	"github.com/molior-deb/molior/server/store"
	"github.com/molior-deb/molior/server/store/builds"
	"github.com/molior-deb/molior/server/store/buildtasks"
	"github.com/molior-deb/molior/server/store/chroots"
	"github.com/molior-deb/molior/server/store/hooks"
	"github.com/molior-deb/molior/server/store/metadata"
	"github.com/molior-deb/molior/server/store/migrations"
	"github.com/molior-deb/molior/server/store/projectversions"
	"github.com/molior-deb/molior/server/store/repos"
)

func New(ctx context.Context, config *ServerConfig) (*Server, func(), error) {
	panic(wire.Build(
		NewServer,
		wire.FieldsOf(new(*ServerConfig), "APIConfig", "DatabaseConfig", "BackendConfig", "WorkingDirectory", "Hostname", "AptServerURL", "GPGKeyURL", "MaxParallelChroots", "LogLevels"),
		store.NewDatabase,
		migrations.NewMoliorGolangMigrateRunner,
		wire.Bind(new(store.MigrationRunner), new(*migrations.GolangMigrateRunner)),

		// Stores
		builds.NewStore,
		wire.Bind(new(store.BuildStore), new(*builds.BuildStore)),
		buildtasks.NewStore,
		wire.Bind(new(store.BuildTaskStore), new(*buildtasks.BuildTaskStore)),
		chroots.NewStore,
		wire.Bind(new(store.ChrootStore), new(*chroots.ChrootStore)),
		hooks.NewStore,
		wire.Bind(new(store.PostBuildHookStore), new(*hooks.PostBuildHookStore)),
		metadata.NewStore,
		wire.Bind(new(store.MetaDataStore), new(*metadata.MetaDataStore)),
		projectversions.NewStore,
		wire.Bind(new(store.ProjectVersionStore), new(*projectversions.ProjectVersionStore)),
		repos.NewStore,
		wire.Bind(new(store.SourceRepositoryStore), new(*repos.SourceRepositoryStore)),

		// Queues
		queues.NewQueues,
		wire.FieldsOf(new(*queues.Queues), "Backend"),

		// Services
		log.NewLogService,
		wire.Bind(new(services.LogService), new(*log.LogService)),
		git.NewGitService,
		wire.Bind(new(services.GitService), new(*git.GitService)),
		build.NewDebPackager,
		wire.Bind(new(services.Packager), new(*build.DebPackager)),
		build.NewBuildService,
		wire.Bind(new(services.BuildService), new(*build.BuildService)),
		repo.NewRepoService,
		wire.Bind(new(services.RepoService), new(*repo.RepoService)),
		scheduler.NewSchedulerService,
		wire.Bind(new(services.SchedulerService), new(*scheduler.SchedulerService)),
		buildenv.NewBuildEnvService,
		wire.Bind(new(services.BuildEnvService), new(*buildenv.BuildEnvService)),
		notify.NewHub,
		notify.NewNotifier,
		wire.Bind(new(services.NotificationService), new(*notify.Notifier)),

		// Backend and workers
		backend.NewRegistry,
		BackendFactory,
		worker.NewReconciler,
		worker.NewWorker,
		backend.NewWorker,

		// APIs
		server.NewStatusAPI,
		server.NewNodeAPI,
		server.NewBuildAPI,
		server.NewRepoAPI,

		// HTTP Server
		server.NewAppAPIServer,
		server.NewAppAPIRouter,
		server.RealHTTPServerFactory,

		logger.NewLogRegistry,
		logger.MakeLogrusLogFactoryStdOut,
		clock.New,
	))
}
