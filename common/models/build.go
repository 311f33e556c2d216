package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	// BuildStateNew indicates the build row exists but no work has started.
	BuildStateNew BuildState = "new"
	// BuildStateNeedsBuild indicates sources are prepared and the build is waiting for the scheduler.
	BuildStateNeedsBuild BuildState = "needs_build"
	// BuildStateScheduled indicates the build has been handed to the backend.
	BuildStateScheduled BuildState = "scheduled"
	// BuildStateBuilding indicates a node is running the build.
	BuildStateBuilding BuildState = "building"
	// BuildStateBuildFailed indicates the build step failed.
	BuildStateBuildFailed BuildState = "build_failed"
	// BuildStateNeedsPublish indicates artifacts are ready to be published.
	BuildStateNeedsPublish BuildState = "needs_publish"
	// BuildStatePublishing indicates artifacts are being pushed to the repository.
	BuildStatePublishing BuildState = "publishing"
	// BuildStatePublishFailed indicates publishing failed.
	BuildStatePublishFailed BuildState = "publish_failed"
	// BuildStateSuccessful indicates the build finished and its artifacts are published.
	BuildStateSuccessful BuildState = "successful"
	// BuildStateAlreadyExists indicates the version was already built and nothing was done.
	BuildStateAlreadyExists BuildState = "already_exists"
	// BuildStateNothingDone indicates the build was skipped, e.g. no matching target.
	BuildStateNothingDone BuildState = "nothing_done"
)

var buildStates = map[string]BuildState{
	string(BuildStateNew):           BuildStateNew,
	string(BuildStateNeedsBuild):    BuildStateNeedsBuild,
	string(BuildStateScheduled):     BuildStateScheduled,
	string(BuildStateBuilding):      BuildStateBuilding,
	string(BuildStateBuildFailed):   BuildStateBuildFailed,
	string(BuildStateNeedsPublish):  BuildStateNeedsPublish,
	string(BuildStatePublishing):    BuildStatePublishing,
	string(BuildStatePublishFailed): BuildStatePublishFailed,
	string(BuildStateSuccessful):    BuildStateSuccessful,
	string(BuildStateAlreadyExists): BuildStateAlreadyExists,
	string(BuildStateNothingDone):   BuildStateNothingDone,
}

type BuildState string

func (s BuildState) Valid() bool {
	_, ok := buildStates[string(s)]
	return ok
}

// HasFinished returns true once the build reached a terminal state and no
// further transitions are expected.
func (s BuildState) HasFinished() bool {
	return s == BuildStateSuccessful ||
		s == BuildStateBuildFailed ||
		s == BuildStatePublishFailed ||
		s == BuildStateAlreadyExists ||
		s == BuildStateNothingDone
}

// HasFailed returns true if the build reached a terminal failure state.
func (s BuildState) HasFailed() bool {
	return s == BuildStateBuildFailed || s == BuildStatePublishFailed
}

func (s BuildState) String() string {
	return string(s)
}

func (s *BuildState) Scan(src interface{}) error {
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for build state: %[1]T (%[1]v)", src)
	}
	state, ok := buildStates[t]
	if !ok {
		return fmt.Errorf("unknown build state: %q", t)
	}
	*s = state
	return nil
}

func (s BuildState) Value() (driver.Value, error) {
	return string(s), nil
}

const (
	// BuildTypeBuild is the top-level build grouping one source build and its
	// per-architecture deb builds.
	BuildTypeBuild BuildType = "build"
	// BuildTypeSource is the source package build.
	BuildTypeSource BuildType = "source"
	// BuildTypeDeb is a binary package build for one architecture.
	BuildTypeDeb BuildType = "deb"
	// BuildTypeChroot is a build environment creation run.
	BuildTypeChroot BuildType = "chroot"
	// BuildTypeMirror is a mirror update run grouping chroot builds.
	BuildTypeMirror BuildType = "mirror"
)

var buildTypes = map[string]BuildType{
	string(BuildTypeBuild):  BuildTypeBuild,
	string(BuildTypeSource): BuildTypeSource,
	string(BuildTypeDeb):    BuildTypeDeb,
	string(BuildTypeChroot): BuildTypeChroot,
	string(BuildTypeMirror): BuildTypeMirror,
}

type BuildType string

func (t BuildType) Valid() bool {
	_, ok := buildTypes[string(t)]
	return ok
}

func (t BuildType) String() string {
	return string(t)
}

func (t *BuildType) Scan(src interface{}) error {
	s, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for build type: %[1]T (%[1]v)", src)
	}
	buildType, ok := buildTypes[s]
	if !ok {
		return fmt.Errorf("unknown build type: %q", s)
	}
	*t = buildType
	return nil
}

func (t BuildType) Value() (driver.Value, error) {
	return string(t), nil
}

type Build struct {
	ID        int64 `json:"id" goqu:"skipinsert,skipupdate" db:"build_id"`
	CreatedAt Time  `json:"created_at" goqu:"skipupdate" db:"build_created_at"`
	// StartedAt is set when the build enters the building state.
	StartedAt *Time `json:"started_at,omitempty" db:"build_started_at"`
	// BuiltAt is set when the build step finishes, before publishing.
	BuiltAt *Time `json:"built_at,omitempty" db:"build_built_at"`
	// EndedAt is set when the build reaches a terminal state.
	EndedAt *Time      `json:"ended_at,omitempty" db:"build_ended_at"`
	State   BuildState `json:"state" db:"build_state"`
	Type    BuildType  `json:"type" goqu:"skipupdate" db:"build_type"`
	// ParentID groups deb builds under a source-level build and chroot
	// builds under a mirror build.
	ParentID           *int64 `json:"parent_id,omitempty" db:"build_parent_id"`
	SourceRepositoryID *int64 `json:"source_repository_id,omitempty" db:"build_source_repository_id"`
	ProjectVersionID   *int64 `json:"project_version_id,omitempty" db:"build_project_version_id"`
	SourceName         string `json:"source_name" db:"build_source_name"`
	Version            string `json:"version" db:"build_version"`
	Maintainer         string `json:"maintainer" db:"build_maintainer"`
	MaintainerEmail    string `json:"maintainer_email" db:"build_maintainer_email"`
	// GitRef is the commit, tag or branch the build was requested for.
	GitRef string `json:"git_ref" db:"build_git_ref"`
	// CIBranch is the branch a CI build tracks; empty for release builds.
	CIBranch     string `json:"ci_branch" db:"build_ci_branch"`
	IsCI         bool   `json:"is_ci" db:"build_is_ci"`
	Architecture string `json:"architecture" db:"build_architecture"`
}

// CanRebuild reports whether a rebuild may be requested in the current state.
func (m *Build) CanRebuild() bool {
	return m.State == BuildStateBuildFailed || m.State == BuildStatePublishFailed
}

func (m *Build) Validate() error {
	var result *multierror.Error
	if !m.State.Valid() {
		result = multierror.Append(result, errors.Errorf("error build state %q is not valid", m.State))
	}
	if !m.Type.Valid() {
		result = multierror.Append(result, errors.Errorf("error build type %q is not valid", m.Type))
	}
	if m.CreatedAt.IsZero() {
		result = multierror.Append(result, errors.New("error created at must be set"))
	}
	if m.Type == BuildTypeDeb && m.Architecture == "" {
		result = multierror.Append(result, errors.New("error deb builds must have an architecture"))
	}
	return result.ErrorOrNil()
}

// BuildProject identifies the project version a build belongs to.
type BuildProject struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// BuildData is the flattened document sent to websocket subscribers and hook
// targets. It is composed once, outside any database session.
type BuildData struct {
	ID                 int64         `json:"id"`
	ParentID           *int64        `json:"parent_id,omitempty"`
	CanRebuild         bool          `json:"can_rebuild"`
	BuildState         string        `json:"buildstate"`
	BuildType          string        `json:"buildtype"`
	CreatedStamp       string        `json:"createdstamp"`
	StartStamp         string        `json:"startstamp"`
	BuildEndStamp      string        `json:"buildendstamp"`
	EndStamp           string        `json:"endstamp"`
	SourceName         string        `json:"sourcename"`
	Version            string        `json:"version"`
	Maintainer         string        `json:"maintainer"`
	MaintainerEmail    string        `json:"maintainer_email"`
	GitRef             string        `json:"git_ref"`
	Branch             string        `json:"branch"`
	Architecture       string        `json:"architecture,omitempty"`
	SourceRepositoryID *int64        `json:"sourcerepository_id,omitempty"`
	Project            *BuildProject `json:"project,omitempty"`
}

// Data renders the build into its notification document. Related project
// information is attached by the caller when available.
func (m *Build) Data() *BuildData {
	return &BuildData{
		ID:                 m.ID,
		ParentID:           m.ParentID,
		CanRebuild:         m.CanRebuild(),
		BuildState:         string(m.State),
		BuildType:          string(m.Type),
		CreatedStamp:       m.CreatedAt.Stamp(),
		StartStamp:         StampOrEmpty(m.StartedAt),
		BuildEndStamp:      StampOrEmpty(m.BuiltAt),
		EndStamp:           StampOrEmpty(m.EndedAt),
		SourceName:         m.SourceName,
		Version:            m.Version,
		Maintainer:         m.Maintainer,
		MaintainerEmail:    m.MaintainerEmail,
		GitRef:             m.GitRef,
		Branch:             m.CIBranch,
		Architecture:       m.Architecture,
		SourceRepositoryID: m.SourceRepositoryID,
	}
}
