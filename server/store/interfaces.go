package store

import (
	"context"

	"github.com/molior-deb/molior/common/models"
)

type BuildStore interface {
	// Create a new build. The id of the new row is filled in on the supplied model.
	Create(ctx context.Context, txOrNil *Tx, build *models.Build) error
	// Read an existing build, looking it up by id.
	// Returns gerror.ErrNotFound if the build does not exist.
	Read(ctx context.Context, txOrNil *Tx, id int64) (*models.Build, error)
	// Update an existing build. Overrides all previous values using the supplied model.
	Update(ctx context.Context, txOrNil *Tx, build *models.Build) error
	// LockRowForUpdate takes out an exclusive row lock on the build row.
	// Must be run in a transaction; no-op on databases without row level locking.
	LockRowForUpdate(ctx context.Context, tx *Tx, id int64) error
	// ListChildren lists the direct children of the given build in id order.
	ListChildren(ctx context.Context, txOrNil *Tx, parentID int64) ([]*models.Build, error)
	// ListInState lists all builds in the given state in id order.
	ListInState(ctx context.Context, txOrNil *Tx, state models.BuildState) ([]*models.Build, error)
	// ListPendingDebBuilds lists deb builds in state needs_build in id order.
	ListPendingDebBuilds(ctx context.Context, txOrNil *Tx) ([]*models.Build, error)
	// FindExistingDeb finds a deb build for the same source package version in the
	// given project version whose state is not failed.
	// Returns gerror.ErrNotFound if there is none.
	FindExistingDeb(ctx context.Context, txOrNil *Tx, projectVersionID int64, sourceName, version string) (*models.Build, error)
	// CountForRepository returns the number of builds referencing the given repository.
	CountForRepository(ctx context.Context, txOrNil *Tx, repoID int64) (int64, error)
	// ReassignRepository points all builds of fromRepoID at toRepoID and returns
	// the number of moved rows.
	ReassignRepository(ctx context.Context, txOrNil *Tx, fromRepoID, toRepoID int64) (int64, error)
}

type SourceRepositoryStore interface {
	// Create a new source repository.
	// Returns gerror.ErrAlreadyExists if a repository with the same URL already exists.
	Create(ctx context.Context, txOrNil *Tx, repo *models.SourceRepository) error
	// Read an existing source repository, looking it up by id.
	// Returns gerror.ErrNotFound if the repository does not exist.
	Read(ctx context.Context, txOrNil *Tx, id int64) (*models.SourceRepository, error)
	// ReadByURL reads an existing source repository, looking it up by its git URL.
	// Returns gerror.ErrNotFound if the repository does not exist.
	ReadByURL(ctx context.Context, txOrNil *Tx, url string) (*models.SourceRepository, error)
	// FindByURLSuffix finds a repository whose URL ends in suffix, comparing
	// case insensitively.
	// Returns gerror.ErrNotFound if there is none.
	FindByURLSuffix(ctx context.Context, txOrNil *Tx, suffix string) (*models.SourceRepository, error)
	// Update an existing source repository. Overrides all previous values using the supplied model.
	Update(ctx context.Context, txOrNil *Tx, repo *models.SourceRepository) error
	// ListUnnamed lists repositories whose name column is still empty.
	ListUnnamed(ctx context.Context, txOrNil *Tx) ([]*models.SourceRepository, error)
	// Delete permanently deletes a source repository row.
	Delete(ctx context.Context, txOrNil *Tx, id int64) error
	// AttachProjectVersion associates a repository with a project version.
	AttachProjectVersion(ctx context.Context, txOrNil *Tx, link *models.RepoProjectVersion) error
	// ListProjectVersionLinks lists the project version associations of a repository.
	ListProjectVersionLinks(ctx context.Context, txOrNil *Tx, repoID int64) ([]*models.RepoProjectVersion, error)
	// FindProjectVersionLink finds the association between a repository and a project version.
	// Returns gerror.ErrNotFound if there is none.
	FindProjectVersionLink(ctx context.Context, txOrNil *Tx, repoID, projectVersionID int64) (*models.RepoProjectVersion, error)
	// FindTargets finds the associations of a repository whose project and version
	// names match, comparing case insensitively. An empty projectName matches
	// any project.
	FindTargets(ctx context.Context, txOrNil *Tx, repoID int64, projectName, versionName string) ([]*models.RepoProjectVersion, error)
	// ReassignProjectVersionLink points an association at a different repository.
	ReassignProjectVersionLink(ctx context.Context, txOrNil *Tx, linkID, repoID int64) error
	// DeleteProjectVersionLinks removes all associations of a repository and returns
	// the number of removed rows.
	DeleteProjectVersionLinks(ctx context.Context, txOrNil *Tx, repoID int64) (int64, error)
	// CountProjectVersionLinks returns the number of project version associations of a repository.
	CountProjectVersionLinks(ctx context.Context, txOrNil *Tx, repoID int64) (int64, error)
}

type ProjectVersionStore interface {
	// CreateProject creates a new project.
	// Returns gerror.ErrAlreadyExists if a project with the same name already exists.
	CreateProject(ctx context.Context, txOrNil *Tx, project *models.Project) error
	// ReadProject reads an existing project, looking it up by id.
	// Returns gerror.ErrNotFound if the project does not exist.
	ReadProject(ctx context.Context, txOrNil *Tx, id int64) (*models.Project, error)
	// Create a new project version.
	// Returns gerror.ErrAlreadyExists if the project already has a version with the same name.
	Create(ctx context.Context, txOrNil *Tx, version *models.ProjectVersion) error
	// Read an existing project version, looking it up by id.
	// Returns gerror.ErrNotFound if the version does not exist.
	Read(ctx context.Context, txOrNil *Tx, id int64) (*models.ProjectVersion, error)
	// Update an existing project version. Overrides all previous values using the supplied model.
	Update(ctx context.Context, txOrNil *Tx, version *models.ProjectVersion) error
}

type ChrootStore interface {
	// Create a new chroot row.
	// Returns gerror.ErrAlreadyExists if the (basemirror, architecture) pair already exists.
	Create(ctx context.Context, txOrNil *Tx, chroot *models.Chroot) error
	// Read an existing chroot, looking it up by id.
	// Returns gerror.ErrNotFound if the chroot does not exist.
	Read(ctx context.Context, txOrNil *Tx, id int64) (*models.Chroot, error)
	// ReadByBuild reads the chroot created by the given build.
	// Returns gerror.ErrNotFound if there is none.
	ReadByBuild(ctx context.Context, txOrNil *Tx, buildID int64) (*models.Chroot, error)
	// Find reads the chroot for a base mirror and architecture.
	// Returns gerror.ErrNotFound if there is none.
	Find(ctx context.Context, txOrNil *Tx, basemirrorID int64, architecture string) (*models.Chroot, error)
	// Update an existing chroot. Overrides all previous values using the supplied model.
	Update(ctx context.Context, txOrNil *Tx, chroot *models.Chroot) error
}

type BuildTaskStore interface {
	// Create a new build task.
	// Returns gerror.ErrAlreadyExists if the task token is already taken.
	Create(ctx context.Context, txOrNil *Tx, task *models.BuildTask) error
	// ReadByTaskID reads a build task by its token.
	// Returns gerror.ErrNotFound if the task does not exist.
	ReadByTaskID(ctx context.Context, txOrNil *Tx, taskID string) (*models.BuildTask, error)
	// ReadForBuild reads the build task of a build.
	// Returns gerror.ErrNotFound if there is none.
	ReadForBuild(ctx context.Context, txOrNil *Tx, buildID int64) (*models.BuildTask, error)
	// DeleteForBuild removes the build tasks of a build and returns the number of removed rows.
	DeleteForBuild(ctx context.Context, txOrNil *Tx, buildID int64) (int64, error)
}

type PostBuildHookStore interface {
	// Create a new post build hook.
	Create(ctx context.Context, txOrNil *Tx, hook *models.PostBuildHook) error
	// ListForBuild lists the hooks registered for the repository and project version
	// a build belongs to.
	ListForBuild(ctx context.Context, txOrNil *Tx, sourceRepositoryID, projectVersionID int64) ([]*models.PostBuildHook, error)
}

type MetaDataStore interface {
	// Get returns the value stored under name, or fallback if the row does not exist.
	Get(ctx context.Context, txOrNil *Tx, name, fallback string) (string, error)
	// Set stores value under name, inserting the row if needed.
	Set(ctx context.Context, txOrNil *Tx, name, value string) error
}
