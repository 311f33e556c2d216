package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/api/rest/documents"
)

// GetNodes retrieves one page of the machine list. A zero page or pageSize
// leaves the server defaults in place.
func (a *APIClient) GetNodes(ctx context.Context, search string, page, pageSize int) (*documents.NodesDocument, error) {
	query := url.Values{}
	if search != "" {
		query.Set("q", search)
	}
	if page > 0 {
		query.Set("page", fmt.Sprintf("%d", page))
	}
	if pageSize > 0 {
		query.Set("page_size", fmt.Sprintf("%d", pageSize))
	}
	path := "/api/nodes"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	code, _, body, err := a.get(ctx, nil, path)
	if err != nil {
		return nil, err
	}
	if !a.isOneOf(code, []int{http.StatusOK}) {
		return nil, a.makeHTTPError(code, body)
	}
	doc := &documents.NodesDocument{}
	err = json.Unmarshal(body, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing response body: %s", string(body[:]))
	}
	return doc, nil
}

// GetNode retrieves one build node by its machine id.
func (a *APIClient) GetNode(ctx context.Context, machineID string) (*models.NodeInfo, error) {
	code, _, body, err := a.get(ctx, nil, fmt.Sprintf("/api/node/%s", url.PathEscape(machineID)))
	if err != nil {
		return nil, err
	}
	if !a.isOneOf(code, []int{http.StatusOK}) {
		return nil, a.makeHTTPError(code, body)
	}
	doc := &models.NodeInfo{}
	err = json.Unmarshal(body, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing response body: %s", string(body[:]))
	}
	return doc, nil
}
