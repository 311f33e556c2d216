package services

import (
	"context"
	"net/http"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/store"
)

// WorkingDirectory is the server working directory holding repository
// checkouts and build output.
type WorkingDirectory string

func (w WorkingDirectory) String() string {
	return string(w)
}

// AptServerURL is the base URL of the apt repository server build nodes
// fetch dependencies from and publish packages to.
type AptServerURL string

func (u AptServerURL) String() string {
	return string(u)
}

// ServerHostname is the name web clients reach the server under, used for
// links rendered into notifications. Empty means use the OS hostname.
type ServerHostname string

func (h ServerHostname) String() string {
	return string(h)
}

// GPGKeyURL is where users and build nodes download the public key the apt
// repositories are signed with.
type GPGKeyURL string

func (u GPGKeyURL) String() string {
	return string(u)
}

// TitleOptions controls how a build log banner is rendered.
type TitleOptions struct {
	// Error renders the banner in red instead of cyan.
	Error bool
	// NoHeaderNewline suppresses the blank line before the banner.
	NoHeaderNewline bool
	// NoFooterNewline suppresses the blank line after the banner.
	NoFooterNewline bool
}

type LogService interface {
	// Write appends text verbatim to the log of the given build. Writes are
	// serialized through a per-build writer and flushed to disk in order.
	Write(buildID int64, text string)
	// Printf formats and appends text to the log of the given build.
	Printf(buildID int64, format string, args ...interface{})
	// Title appends a banner with the given title to the log of the build.
	// A nil opts renders the default banner without a leading blank line.
	Title(buildID int64, title string, opts *TitleOptions)
	// TitleDone appends the closing "Done" banner.
	TitleDone(buildID int64)
	// MarkDone signals that no more build output will arrive for the build
	// and notifies the backend queue. The log stays open for banners written
	// during finalization.
	MarkDone(buildID int64)
	// Close stops the writer of the build and closes its log file.
	Close(buildID int64)
	// Stop closes all open build logs.
	Stop()
}

// BuildInfo is the package metadata extracted from a checked out source tree.
type BuildInfo struct {
	SourceName      string
	Version         string
	Maintainer      string
	MaintainerEmail string
	CommitHash      string
	AuthorName      string
	AuthorEmail     string
	Targets         []Target
}

// Target names a project version a repository wants to be built for.
// Project may be empty when the build configuration only pins a version.
type Target struct {
	Project string
	Version string
}

type GitService interface {
	// Clone clones the repository into its checkout directory, replacing any
	// existing checkout. Progress is streamed to the log of the given build.
	Clone(ctx context.Context, buildID int64, repo *models.SourceRepository) error
	// Checkout fetches and checks out the given ref, restoring the working
	// tree to a pristine state first. Progress is streamed to the build log.
	Checkout(ctx context.Context, buildID int64, repo *models.SourceRepository, ref string) error
	// LatestTag returns the newest tag of the repository that looks like a
	// Debian version, by commit timestamp. Progress is streamed to the build
	// log. Returns an empty string when the repository has no such tag.
	LatestTag(ctx context.Context, buildID int64, repo *models.SourceRepository) (string, error)
	// BuildInfo extracts source package name, version, maintainer and build
	// targets from the checked out tree.
	BuildInfo(ctx context.Context, repo *models.SourceRepository) (*BuildInfo, error)
	// ChangeURL points the checkout at a new remote URL and renames the
	// checkout directory after the new repository name.
	ChangeURL(ctx context.Context, repo *models.SourceRepository, newURL string) error
}

// Packager turns a checked out source tree into a Debian source package.
type Packager interface {
	// BuildSourcePackage runs the source package build in the checkout
	// directory, streaming output to the log of the given build.
	BuildSourcePackage(ctx context.Context, buildID int64, sourceDir string) error
}

type BuildService interface {
	// Create a new build and announce it to websocket subscribers.
	Create(ctx context.Context, txOrNil *store.Tx, build *models.Build) error
	// Read an existing build, looking it up by id.
	// Returns gerror.ErrNotFound if the build does not exist.
	Read(ctx context.Context, txOrNil *store.Tx, id int64) (*models.Build, error)
	// Data renders a build into its notification document, attaching project
	// information when the build belongs to a non-mirror project version.
	Data(ctx context.Context, txOrNil *store.Tx, build *models.Build) (*models.BuildData, error)

	// SetNeedsBuild marks the build ready for scheduling and clears its end
	// timestamps. Reopens the finished top-level build of a deb build.
	SetNeedsBuild(ctx context.Context, txOrNil *store.Tx, id int64) error
	// SetScheduled marks the build as handed to the backend. Returns false
	// without changing anything if the build already left needs_build.
	SetScheduled(ctx context.Context, txOrNil *store.Tx, id int64) (bool, error)
	// SetBuilding marks the build as running and records the start time.
	SetBuilding(ctx context.Context, txOrNil *store.Tx, id int64) error
	// SetFailed marks the build as failed and propagates the failure to the
	// parent of a source build and the top-level build of a deb build.
	SetFailed(ctx context.Context, txOrNil *store.Tx, id int64) error
	// SetNeedsPublish marks the build step finished and ready to publish.
	SetNeedsPublish(ctx context.Context, txOrNil *store.Tx, id int64) error
	// SetPublishing marks the build's packages as being published.
	SetPublishing(ctx context.Context, txOrNil *store.Tx, id int64) error
	// SetPublishFailed marks publishing as failed and propagates the failure
	// of a source build to its parent.
	SetPublishFailed(ctx context.Context, txOrNil *store.Tx, id int64) error
	// SetSuccessful marks the build successful. When the last deb build under
	// a top-level build succeeds the top-level build succeeds too.
	SetSuccessful(ctx context.Context, txOrNil *store.Tx, id int64) error
	// SetAlreadyExists finishes the build because the version is already built.
	SetAlreadyExists(ctx context.Context, txOrNil *store.Tx, id int64) error
	// SetNothingDone finishes the build because there was nothing to build.
	SetNothingDone(ctx context.Context, txOrNil *store.Tx, id int64) error

	// CanRebuild reports whether a rebuild may be requested for the build,
	// considering its state and the lock of its project version.
	CanRebuild(ctx context.Context, txOrNil *store.Tx, build *models.Build) (bool, error)
	// Rebuild resets a failed build and runs it again. How depends on the
	// build type. Returns gerror.ErrValidationFailed for builds that cannot
	// be rebuilt.
	Rebuild(ctx context.Context, buildID int64) error
	// StartBuildProcess begins the build process of a top-level build in the
	// background. Returns requeue=true while the repository is not ready.
	StartBuildProcess(ctx context.Context, task *models.Task) (requeue bool, err error)
}

type RepoService interface {
	// StartClone begins cloning a repository in the background. Requests for
	// repositories that are neither new nor in error are dropped.
	StartClone(ctx context.Context, task *models.Task) error
	// BuildLatest resolves the newest tag of the repository and enqueues a
	// build for it. Returns requeue=true while the repository is not ready.
	BuildLatest(ctx context.Context, task *models.Task) (requeue bool, err error)
	// MergeDuplicate folds a duplicate repository into the original, moving
	// project version links and builds over. Returns requeue=true while
	// either repository is not ready.
	MergeDuplicate(ctx context.Context, task *models.Task) (requeue bool, err error)
	// Delete removes a repository that has no project version links and no
	// builds left, together with its checkout. Returns requeue=true while
	// the repository is not ready.
	Delete(ctx context.Context, task *models.Task) (requeue bool, err error)
}

type SchedulerService interface {
	// ScheduleBuilds hands pending deb builds to the backend, oldest first,
	// as long as idle nodes of the right architecture are available.
	ScheduleBuilds(ctx context.Context) error
}

type BuildEnvService interface {
	// Start begins creating a build environment in the background. Returns
	// requeue=true while the parallel chroot build limit is reached.
	Start(ctx context.Context, task *models.Task) (requeue bool, err error)
}

// Backend runs scheduled builds on build nodes and reports their progress
// through the backend queue.
type Backend interface {
	// Name returns the name the backend is registered under.
	Name() string
	// Build hands a build request to the backend for execution.
	Build(ctx context.Context, job *models.BuildRequest) error
	// Abort stops a running build.
	Abort(ctx context.Context, buildID int64) error
	// HasIdleNode reports whether a node is available to build the given
	// architecture right now.
	HasIdleNode(architecture string) bool
	// GetNodesInfo describes the build nodes the backend knows about.
	GetNodesInfo(ctx context.Context) []*models.NodeInfo
	// Stop shuts the backend down and waits for its workers to exit.
	Stop()
}

type NotificationService interface {
	// WebsocketHandler returns the handler that upgrades API websocket
	// connections and serves build log subscriptions.
	WebsocketHandler() http.Handler
	// Notify broadcasts an event to all websocket subscribers.
	Notify(event *models.WebsocketEvent)
}
