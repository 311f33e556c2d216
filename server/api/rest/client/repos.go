package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/molior-deb/molior/server/api/rest/documents"
)

// GetRepository retrieves one source repository.
func (a *APIClient) GetRepository(ctx context.Context, repoID int64) (*documents.RepositoryDocument, error) {
	code, _, body, err := a.get(ctx, nil, fmt.Sprintf("/api/repository/%d", repoID))
	if err != nil {
		return nil, err
	}
	if !a.isOneOf(code, []int{http.StatusOK}) {
		return nil, a.makeHTTPError(code, body)
	}
	doc := &documents.RepositoryDocument{}
	err = json.Unmarshal(body, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing response body: %s", string(body[:]))
	}
	return doc, nil
}

// ChangeRepositoryURL moves a repository to a new git URL.
func (a *APIClient) ChangeRepositoryURL(ctx context.Context, repoID int64, newURL string) (*documents.RepositoryDocument, error) {
	req := &documents.ChangeRepositoryURLRequest{URL: newURL}
	code, _, body, err := a.put(ctx, nil, fmt.Sprintf("/api/repository/%d", repoID), req)
	if err != nil {
		return nil, err
	}
	if !a.isOneOf(code, []int{http.StatusOK}) {
		return nil, a.makeHTTPError(code, body)
	}
	doc := &documents.RepositoryDocument{}
	err = json.Unmarshal(body, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing response body: %s", string(body[:]))
	}
	return doc, nil
}
