package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/api/rest/documents"
	"github.com/molior-deb/molior/server/api/rest/routes"
	"github.com/molior-deb/molior/server/services"
)

// NodeAPI serves the machine list: the server itself plus the build nodes
// reported by the backend.
type NodeAPI struct {
	backend services.Backend
	*APIBase
}

func NewNodeAPI(backend services.Backend, logFactory logger.LogFactory) *NodeAPI {
	return &NodeAPI{backend: backend, APIBase: NewAPIBase(logFactory("NodeAPI"))}
}

// List returns one page of machines, sorted by name. The search filter only
// applies to build nodes; the server entry is always included.
func (a *NodeAPI) List(w http.ResponseWriter, r *http.Request) {
	page, err := routes.ParsePage(r.URL.Query())
	if err != nil {
		a.Error(w, r, err)
		return
	}
	results := []*models.NodeInfo{serverInfo()}
	search := strings.ToLower(page.Search)
	for _, node := range a.backend.GetNodesInfo(r.Context()) {
		if search != "" && !strings.Contains(strings.ToLower(node.Name), search) {
			continue
		}
		results = append(results, node)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	low, high := page.Slice(len(results))
	a.JSON(w, r, &documents.NodesDocument{
		TotalResultCount: len(results),
		Results:          results[low:high],
	})
}

// Get returns one build node, looked up by its machine id.
func (a *NodeAPI) Get(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "machineID")
	for _, node := range a.backend.GetNodesInfo(r.Context()) {
		if node.ID == machineID {
			a.JSON(w, r, node)
			return
		}
	}
	a.ErrorNotLogged(w, r, gerror.NewErrNotFound("Node not found"))
}
