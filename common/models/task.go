package models

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	// TaskClone clones a source repository and continues with the build.
	TaskClone TaskTag = "clone"
	// TaskBuild runs the build process for a prepared repository.
	TaskBuild TaskTag = "build"
	// TaskBuildLatest resolves the latest tag of a repository and builds it.
	TaskBuildLatest TaskTag = "buildlatest"
	// TaskRebuild resets a failed build and runs it again.
	TaskRebuild TaskTag = "rebuild"
	// TaskSchedule asks the scheduler to hand ready builds to the backend.
	TaskSchedule TaskTag = "schedule"
	// TaskBuildEnv creates a build environment for one architecture.
	TaskBuildEnv TaskTag = "buildenv"
	// TaskMergeDuplicateRepo folds a duplicate repository into the original.
	TaskMergeDuplicateRepo TaskTag = "merge_duplicate_repo"
	// TaskDeleteRepo removes an unused repository and its checkout.
	TaskDeleteRepo TaskTag = "delete_repo"
)

var taskTags = map[string]TaskTag{
	string(TaskClone):              TaskClone,
	string(TaskBuild):              TaskBuild,
	string(TaskBuildLatest):        TaskBuildLatest,
	string(TaskRebuild):            TaskRebuild,
	string(TaskSchedule):           TaskSchedule,
	string(TaskBuildEnv):           TaskBuildEnv,
	string(TaskMergeDuplicateRepo): TaskMergeDuplicateRepo,
	string(TaskDeleteRepo):         TaskDeleteRepo,
}

type TaskTag string

func (t TaskTag) Valid() bool {
	_, ok := taskTags[string(t)]
	return ok
}

func (t TaskTag) String() string {
	return string(t)
}

// Task is one unit of work on the main task queue. Tag selects the variant
// and only the fields belonging to that variant are set.
type Task struct {
	Tag TaskTag `json:"tag"`
	// BuildID is set for clone, build, buildlatest, rebuild and buildenv.
	BuildID int64 `json:"build_id,omitempty"`
	// RepoID is set for clone, build, buildlatest, merge_duplicate_repo
	// and delete_repo.
	RepoID int64 `json:"repo_id,omitempty"`
	// DuplicateRepoID is the repository being folded into RepoID.
	DuplicateRepoID int64 `json:"duplicate_repo_id,omitempty"`

	// Build variant fields. Targets and ForceCI are separate values, a
	// target list never doubles as the CI flag.
	GitRef   string   `json:"git_ref,omitempty"`
	CIBranch string   `json:"ci_branch,omitempty"`
	Targets  []string `json:"targets,omitempty"`
	ForceCI  bool     `json:"force_ci,omitempty"`

	// BuildEnv variant fields describe the chroot to create.
	ChrootID      int64    `json:"chroot_id,omitempty"`
	Distribution  string   `json:"distribution,omitempty"`
	MirrorName    string   `json:"mirror_name,omitempty"`
	MirrorVersion string   `json:"mirror_version,omitempty"`
	Architecture  string   `json:"architecture,omitempty"`
	Components    string   `json:"components,omitempty"`
	RepositoryURL string   `json:"repository_url,omitempty"`
	MirrorKeys    []string `json:"mirror_keys,omitempty"`
}

func NewScheduleTask() *Task {
	return &Task{Tag: TaskSchedule}
}

func (t *Task) String() string {
	switch t.Tag {
	case TaskClone, TaskBuild, TaskBuildLatest:
		return fmt.Sprintf("%s build %d repo %d", t.Tag, t.BuildID, t.RepoID)
	case TaskRebuild:
		return fmt.Sprintf("rebuild build %d", t.BuildID)
	case TaskBuildEnv:
		return fmt.Sprintf("buildenv build %d chroot %d %s/%s", t.BuildID, t.ChrootID, t.Distribution, t.Architecture)
	case TaskMergeDuplicateRepo:
		return fmt.Sprintf("merge_duplicate_repo repo %d duplicate %d", t.RepoID, t.DuplicateRepoID)
	case TaskDeleteRepo:
		return fmt.Sprintf("delete_repo repo %d", t.RepoID)
	default:
		return string(t.Tag)
	}
}

func (t *Task) Validate() error {
	var result *multierror.Error
	if !t.Tag.Valid() {
		result = multierror.Append(result, errors.Errorf("error task tag %q is not valid", t.Tag))
	}
	switch t.Tag {
	case TaskClone, TaskBuild:
		if t.BuildID == 0 {
			result = multierror.Append(result, errors.New("error build id must be set"))
		}
		if t.RepoID == 0 {
			result = multierror.Append(result, errors.New("error repo id must be set"))
		}
	case TaskBuildLatest:
		if t.RepoID == 0 {
			result = multierror.Append(result, errors.New("error repo id must be set"))
		}
		if t.BuildID == 0 {
			result = multierror.Append(result, errors.New("error build id must be set"))
		}
	case TaskRebuild:
		if t.BuildID == 0 {
			result = multierror.Append(result, errors.New("error build id must be set"))
		}
	case TaskBuildEnv:
		if t.ChrootID == 0 {
			result = multierror.Append(result, errors.New("error chroot id must be set"))
		}
		if t.BuildID == 0 {
			result = multierror.Append(result, errors.New("error build id must be set"))
		}
		if t.Architecture == "" {
			result = multierror.Append(result, errors.New("error architecture must be set"))
		}
	case TaskMergeDuplicateRepo:
		if t.RepoID == 0 || t.DuplicateRepoID == 0 {
			result = multierror.Append(result, errors.New("error repo and duplicate ids must be set"))
		}
	case TaskDeleteRepo:
		if t.RepoID == 0 {
			result = multierror.Append(result, errors.New("error repo id must be set"))
		}
	}
	return result.ErrorOrNil()
}
