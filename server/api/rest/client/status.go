package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/molior-deb/molior/server/api/rest/documents"
)

// GetStatus retrieves the server status document.
func (a *APIClient) GetStatus(ctx context.Context) (*documents.StatusDocument, error) {
	code, _, body, err := a.get(ctx, nil, "/api/status")
	if err != nil {
		return nil, err
	}
	if !a.isOneOf(code, []int{http.StatusOK}) {
		return nil, a.makeHTTPError(code, body)
	}
	doc := &documents.StatusDocument{}
	err = json.Unmarshal(body, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing response body: %s", string(body[:]))
	}
	return doc, nil
}

// SetMaintenance updates the maintenance settings. Empty strings leave the
// corresponding setting untouched. Note that the server stores the inverse
// of the mode string it receives.
func (a *APIClient) SetMaintenance(ctx context.Context, mode, message string) (*documents.MaintenanceDocument, error) {
	req := &documents.MaintenanceRequest{MaintenanceMode: mode, MaintenanceMessage: message}
	code, _, body, err := a.post(ctx, nil, "/api/status/maintenance", req)
	if err != nil {
		return nil, err
	}
	if !a.isOneOf(code, []int{http.StatusOK}) {
		return nil, a.makeHTTPError(code, body)
	}
	doc := &documents.MaintenanceDocument{}
	err = json.Unmarshal(body, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing response body: %s", string(body[:]))
	}
	return doc, nil
}
