package documents

import "github.com/molior-deb/molior/common/models"

// NodesDocument is one page of the machine list: the server itself plus the
// build nodes reported by the backend.
type NodesDocument struct {
	TotalResultCount int                `json:"total_result_count"`
	Results          []*models.NodeInfo `json:"results"`
}
