package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/store"
)

// SchedulerService hands pending deb builds to the backend. Scheduling is
// opportunistic: builds are visited in id order and skipped when no idle
// node of their architecture is available right now.
type SchedulerService struct {
	buildStore          store.BuildStore
	repoStore           store.SourceRepositoryStore
	projectVersionStore store.ProjectVersionStore
	buildTaskStore      store.BuildTaskStore
	buildService        services.BuildService
	backend             services.Backend
	queues              *queues.Queues
	aptServer           services.AptServerURL
	logger.Log
}

func NewSchedulerService(
	buildStore store.BuildStore,
	repoStore store.SourceRepositoryStore,
	projectVersionStore store.ProjectVersionStore,
	buildTaskStore store.BuildTaskStore,
	buildService services.BuildService,
	backend services.Backend,
	queues *queues.Queues,
	aptServer services.AptServerURL,
	logFactory logger.LogFactory) *SchedulerService {

	return &SchedulerService{
		buildStore:          buildStore,
		repoStore:           repoStore,
		projectVersionStore: projectVersionStore,
		buildTaskStore:      buildTaskStore,
		buildService:        buildService,
		backend:             backend,
		queues:              queues,
		aptServer:           aptServer,
		Log:                 logFactory("SchedulerService"),
	}
}

// ScheduleBuilds runs one scheduling pass. Running a pass with no pending
// builds is a no-op.
func (s *SchedulerService) ScheduleBuilds(ctx context.Context) error {
	pending, err := s.buildStore.ListPendingDebBuilds(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error listing pending builds")
	}
	for _, build := range pending {
		err := s.schedule(ctx, build)
		if err != nil {
			s.Errorf("error scheduling build %d: %s", build.ID, err)
		}
	}
	return nil
}

// schedule hands one deb build to the backend if an idle node of its
// architecture is available. Builds without a node are left untouched for
// the next pass.
func (s *SchedulerService) schedule(ctx context.Context, build *models.Build) error {
	if !s.backend.HasIdleNode(build.Architecture) {
		s.Tracef("no idle %s node for build %d", build.Architecture, build.ID)
		return nil
	}
	job, err := s.composeRequest(ctx, build)
	if err != nil {
		return err
	}

	claimed, err := s.buildService.SetScheduled(ctx, nil, build.ID)
	if err != nil {
		return err
	}
	if !claimed {
		s.Tracef("build %d already claimed by another pass", build.ID)
		return nil
	}
	err = s.buildTaskStore.Create(ctx, nil, &models.BuildTask{BuildID: build.ID, TaskID: job.Token})
	if err != nil {
		return errors.Wrapf(err, "error creating build task for build %d", build.ID)
	}
	s.queues.Backend.Enqueue(&models.BackendEvent{Kind: models.BackendSchedule, BuildID: build.ID, Job: job})
	s.Infof("scheduled build %d (%s %s, %s)", build.ID, build.SourceName, build.Version, build.Architecture)
	return nil
}

// composeRequest assembles the build request for a deb build from its
// project version and base mirror.
func (s *SchedulerService) composeRequest(ctx context.Context, build *models.Build) (*models.BuildRequest, error) {
	if build.ProjectVersionID == nil {
		return nil, gerror.NewErrValidationFailed(fmt.Sprintf("build %d has no project version", build.ID))
	}
	projectVersion, err := s.projectVersionStore.Read(ctx, nil, *build.ProjectVersionID)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading project version %d", *build.ProjectVersionID)
	}
	project, err := s.projectVersionStore.ReadProject(ctx, nil, projectVersion.ProjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading project %d", projectVersion.ProjectID)
	}
	if projectVersion.BasemirrorID == nil {
		return nil, gerror.NewErrValidationFailed(
			fmt.Sprintf("project version %s/%s has no base mirror", project.Name, projectVersion.Name))
	}
	basemirror, err := s.projectVersionStore.Read(ctx, nil, *projectVersion.BasemirrorID)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading base mirror %d", *projectVersion.BasemirrorID)
	}
	mirrorProject, err := s.projectVersionStore.ReadProject(ctx, nil, basemirror.ProjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading mirror project %d", basemirror.ProjectID)
	}

	runLintian := false
	if build.SourceRepositoryID != nil {
		link, err := s.repoStore.FindProjectVersionLink(ctx, nil, *build.SourceRepositoryID, projectVersion.ID)
		if err == nil {
			runLintian = link.RunLintian
		} else if !gerror.IsNotFound(err) {
			return nil, err
		}
	}

	return &models.BuildRequest{
		BuildID:        build.ID,
		Token:          uuid.New().String(),
		SourceName:     build.SourceName,
		Version:        build.Version,
		Architecture:   build.Architecture,
		DistRelease:    mirrorProject.Name,
		DistVersion:    basemirror.Name,
		Project:        project.Name,
		ProjectVersion: projectVersion.Name,
		AptServer:      s.aptServer.String(),
		AptURLs: aptSourcesList(s.aptServer.String(), mirrorProject.Name, basemirror.Name,
			basemirror.MirrorDistribution, basemirror.MirrorComponents, project.Name, projectVersion.Name),
		AptKeys:    basemirror.MirrorKeyList(),
		RunLintian: runLintian,
	}, nil
}

// aptSourcesList renders the sources.list lines a node needs: the base
// mirror followed by the project repository.
func aptSourcesList(aptServer, mirrorProject, mirrorVersion, distribution, components, project, projectVersion string) string {
	lines := []string{
		fmt.Sprintf("deb %s/%s/%s %s %s",
			aptServer, mirrorProject, mirrorVersion, distribution, strings.ReplaceAll(components, ",", " ")),
		fmt.Sprintf("deb %s/%s/%s stable main", aptServer, project, projectVersion),
	}
	return strings.Join(lines, "\n")
}
