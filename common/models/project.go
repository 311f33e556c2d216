package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

type Project struct {
	ID       int64  `json:"id" goqu:"skipinsert,skipupdate" db:"project_id"`
	Name     string `json:"name" db:"project_name"`
	IsMirror bool   `json:"is_mirror" db:"project_is_mirror"`
}

const (
	MirrorStateNew        MirrorState = "new"
	MirrorStateCreated    MirrorState = "created"
	MirrorStateUpdating   MirrorState = "updating"
	MirrorStatePublishing MirrorState = "publishing"
	MirrorStateReady      MirrorState = "ready"
	MirrorStateError      MirrorState = "error"
)

var mirrorStates = map[string]MirrorState{
	string(MirrorStateNew):        MirrorStateNew,
	string(MirrorStateCreated):    MirrorStateCreated,
	string(MirrorStateUpdating):   MirrorStateUpdating,
	string(MirrorStatePublishing): MirrorStatePublishing,
	string(MirrorStateReady):      MirrorStateReady,
	string(MirrorStateError):      MirrorStateError,
}

type MirrorState string

func (s MirrorState) Valid() bool {
	_, ok := mirrorStates[string(s)]
	return ok
}

func (s MirrorState) String() string {
	return string(s)
}

func (s *MirrorState) Scan(src interface{}) error {
	if src == nil {
		*s = ""
		return nil
	}
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for mirror state: %[1]T (%[1]v)", src)
	}
	if t == "" {
		*s = ""
		return nil
	}
	state, ok := mirrorStates[t]
	if !ok {
		return fmt.Errorf("unknown mirror state: %q", t)
	}
	*s = state
	return nil
}

func (s MirrorState) Value() (driver.Value, error) {
	return string(s), nil
}

// ProjectVersion is one version of a project. Versions of mirror projects
// carry the upstream apt mirror description and act as base mirrors for
// build environments.
type ProjectVersion struct {
	ID        int64  `json:"id" goqu:"skipinsert,skipupdate" db:"projectversion_id"`
	ProjectID int64  `json:"project_id" db:"projectversion_project_id"`
	Name      string `json:"name" db:"projectversion_name"`
	IsLocked  bool   `json:"is_locked" db:"projectversion_is_locked"`
	// BasemirrorID points at the mirror version builds of this version run on.
	BasemirrorID       *int64      `json:"basemirror_id,omitempty" db:"projectversion_basemirror_id"`
	MirrorURL          string      `json:"mirror_url,omitempty" db:"projectversion_mirror_url"`
	MirrorDistribution string      `json:"mirror_distribution,omitempty" db:"projectversion_mirror_distribution"`
	MirrorComponents   string      `json:"mirror_components,omitempty" db:"projectversion_mirror_components"`
	// MirrorArchitectures is a space separated list of the architectures a
	// mirror provides packages for.
	MirrorArchitectures string      `json:"mirror_architectures,omitempty" db:"projectversion_mirror_architectures"`
	MirrorKeys          string      `json:"mirror_keys,omitempty" db:"projectversion_mirror_keys"`
	MirrorState         MirrorState `json:"mirror_state,omitempty" db:"projectversion_mirror_state"`
}

// MirrorKeyList splits the stored key URLs.
func (m *ProjectVersion) MirrorKeyList() []string {
	return strings.Fields(m.MirrorKeys)
}

func (m *ProjectVersion) MirrorArchitectureList() []string {
	return strings.Fields(m.MirrorArchitectures)
}

// RepoProjectVersion attaches a source repository to a project version and
// records the architectures to build for it.
type RepoProjectVersion struct {
	ID                 int64 `json:"id" goqu:"skipinsert,skipupdate" db:"srpv_id"`
	SourceRepositoryID int64 `json:"source_repository_id" db:"srpv_source_repository_id"`
	ProjectVersionID   int64 `json:"project_version_id" db:"srpv_project_version_id"`
	// Architectures is a space separated list, e.g. "amd64 arm64".
	Architectures string `json:"architectures" db:"srpv_architectures"`
	RunLintian    bool   `json:"run_lintian" db:"srpv_run_lintian"`
}

func (m *RepoProjectVersion) ArchitectureList() []string {
	return strings.Fields(m.Architectures)
}
