package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/api/rest/documents"
)

// GetBuild retrieves one build.
func (a *APIClient) GetBuild(ctx context.Context, buildID int64) (*models.BuildData, error) {
	code, _, body, err := a.get(ctx, nil, fmt.Sprintf("/api/build/%d", buildID))
	if err != nil {
		return nil, err
	}
	if !a.isOneOf(code, []int{http.StatusOK}) {
		return nil, a.makeHTTPError(code, body)
	}
	doc := &models.BuildData{}
	err = json.Unmarshal(body, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing response body: %s", string(body[:]))
	}
	return doc, nil
}

// TriggerBuild requests a build of the given ref, wrapping it into the push
// payload the trigger endpoint accepts. The repoURL must be the repository
// browse link, e.g. https://host/stash/projects/PRJ/repos/name/browse.
func (a *APIClient) TriggerBuild(ctx context.Context, repoURL, gitRef, branch string) (*documents.TriggerDocument, error) {
	req := &documents.TriggerRequest{}
	req.Repository.Links.Self = []documents.TriggerLink{{Href: repoURL}}
	req.Push.Changes = []documents.TriggerChange{{
		New: documents.TriggerChangeNew{
			Name:   branch,
			Target: documents.TriggerCommit{Hash: gitRef},
		},
	}}
	code, _, body, err := a.post(ctx, nil, "/api/build", req)
	if err != nil {
		return nil, err
	}
	if !a.isOneOf(code, []int{http.StatusCreated}) {
		return nil, a.makeHTTPError(code, body)
	}
	doc := &documents.TriggerDocument{}
	err = json.Unmarshal(body, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing response body: %s", string(body[:]))
	}
	return doc, nil
}

// RebuildBuild requests a failed build to be built again.
func (a *APIClient) RebuildBuild(ctx context.Context, buildID int64) (*documents.TriggerDocument, error) {
	code, _, body, err := a.post(ctx, nil, fmt.Sprintf("/api/build/%d/rebuild", buildID), nil)
	if err != nil {
		return nil, err
	}
	if !a.isOneOf(code, []int{http.StatusCreated}) {
		return nil, a.makeHTTPError(code, body)
	}
	doc := &documents.TriggerDocument{}
	err = json.Unmarshal(body, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing response body: %s", string(body[:]))
	}
	return doc, nil
}
