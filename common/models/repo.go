package models

import (
	"database/sql/driver"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	// RepoStateNew indicates the repository has never been cloned.
	RepoStateNew RepoState = "new"
	// RepoStateCloning indicates a clone is in progress.
	RepoStateCloning RepoState = "cloning"
	// RepoStateError indicates the last git operation failed.
	RepoStateError RepoState = "error"
	// RepoStateReady indicates the checkout is usable and no task owns it.
	RepoStateReady RepoState = "ready"
	// RepoStateBusy indicates a task currently owns the checkout.
	RepoStateBusy RepoState = "busy"
)

var repoStates = map[string]RepoState{
	string(RepoStateNew):     RepoStateNew,
	string(RepoStateCloning): RepoStateCloning,
	string(RepoStateError):   RepoStateError,
	string(RepoStateReady):   RepoStateReady,
	string(RepoStateBusy):    RepoStateBusy,
}

// RepoState is an advisory lock: tasks only touch a checkout after moving
// the repository from ready to busy.
type RepoState string

func (s RepoState) Valid() bool {
	_, ok := repoStates[string(s)]
	return ok
}

func (s RepoState) String() string {
	return string(s)
}

func (s *RepoState) Scan(src interface{}) error {
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for repo state: %[1]T (%[1]v)", src)
	}
	state, ok := repoStates[t]
	if !ok {
		return fmt.Errorf("unknown repo state: %q", t)
	}
	*s = state
	return nil
}

func (s RepoState) Value() (driver.Value, error) {
	return string(s), nil
}

type SourceRepository struct {
	ID        int64 `json:"id" goqu:"skipinsert,skipupdate" db:"repo_id"`
	CreatedAt Time  `json:"created_at" goqu:"skipupdate" db:"repo_created_at"`
	URL       string `json:"url" db:"repo_url"`
	// Name is derived from the clone URL; empty until backfilled.
	Name  string    `json:"name" db:"repo_name"`
	State RepoState `json:"state" db:"repo_state"`
}

// BasePath returns the per repository directory under the server working
// directory, holding the checkout.
func (m *SourceRepository) BasePath(workingDir string) string {
	return filepath.Join(workingDir, "repositories", strconv.FormatInt(m.ID, 10))
}

// SrcPath returns the checkout directory for this repository under the
// server working directory.
func (m *SourceRepository) SrcPath(workingDir string) string {
	return filepath.Join(m.BasePath(workingDir), m.Name)
}

func (m *SourceRepository) Validate() error {
	var result *multierror.Error
	if m.URL == "" {
		result = multierror.Append(result, errors.New("error url must be set"))
	}
	if !m.State.Valid() {
		result = multierror.Append(result, errors.Errorf("error repo state %q is not valid", m.State))
	}
	if m.CreatedAt.IsZero() {
		result = multierror.Append(result, errors.New("error created at must be set"))
	}
	return result.ErrorOrNil()
}

// RepoNameFromURL derives the repository name from a git clone URL,
// e.g. ssh://git@foo.com:1337/~jon/foobar.git yields foobar.
func RepoNameFromURL(rawURL string) (string, error) {
	ep, err := transport.NewEndpoint(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "error parsing repository url %q", rawURL)
	}
	name := strings.TrimSuffix(path.Base(strings.TrimRight(ep.Path, "/")), ".git")
	if name == "" || name == "." || name == "/" {
		return "", errors.Errorf("error no repository name in url %q", rawURL)
	}
	return name, nil
}
