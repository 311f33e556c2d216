package documents

import (
	"net/http"
	"strings"

	"github.com/molior-deb/molior/common/gerror"
)

// TriggerRequest is the Bitbucket-style push payload accepted by the build
// trigger endpoint. Only the fields the trigger needs are mapped.
type TriggerRequest struct {
	Repository TriggerRepository `json:"repository"`
	Push       TriggerPush       `json:"push"`
}

type TriggerRepository struct {
	Links TriggerLinks `json:"links"`
}

type TriggerLinks struct {
	Self []TriggerLink `json:"self"`
}

type TriggerLink struct {
	Href string `json:"href"`
}

type TriggerPush struct {
	Changes []TriggerChange `json:"changes"`
}

type TriggerChange struct {
	New TriggerChangeNew `json:"new"`
}

type TriggerChangeNew struct {
	Name   string        `json:"name"`
	Target TriggerCommit `json:"target"`
}

type TriggerCommit struct {
	Hash string `json:"hash"`
}

func (d *TriggerRequest) Bind(r *http.Request) error {
	if len(d.Repository.Links.Self) == 0 || d.Repository.Links.Self[0].Href == "" {
		return gerror.NewErrValidationFailed("The repository link must be set")
	}
	if len(d.Push.Changes) == 0 || d.Push.Changes[0].New.Target.Hash == "" {
		return gerror.NewErrValidationFailed("The pushed commit hash must be set")
	}
	return nil
}

// RepositoryURL returns the browse link of the pushed repository.
func (d *TriggerRequest) RepositoryURL() string {
	return d.Repository.Links.Self[0].Href
}

// ProjectAndRepo extracts the lowercased project and repository names from
// the browse link, which has the shape
// https://host/stash/projects/PROJECT/repos/gitrepo/browse.
func (d *TriggerRequest) ProjectAndRepo() (project, repo string, err error) {
	parts := strings.Split(d.RepositoryURL(), "/")
	if len(parts) < 8 {
		return "", "", gerror.NewErrValidationFailed("The repository link is not a browse link")
	}
	return strings.ToLower(parts[5]), strings.ToLower(parts[7]), nil
}

// GitRef returns the hash of the pushed commit.
func (d *TriggerRequest) GitRef() string {
	return d.Push.Changes[0].New.Target.Hash
}

// Branch returns the name of the pushed branch.
func (d *TriggerRequest) Branch() string {
	return d.Push.Changes[0].New.Name
}

// TriggerDocument reports the build created for a trigger.
type TriggerDocument struct {
	BuildID int64 `json:"build_id"`
}
