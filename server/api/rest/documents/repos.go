package documents

import (
	"net/http"

	"github.com/molior-deb/molior/common/gerror"
)

// ChangeRepositoryURLRequest moves a repository to a new git URL.
type ChangeRepositoryURLRequest struct {
	URL string `json:"url"`
}

func (d *ChangeRepositoryURLRequest) Bind(r *http.Request) error {
	if d.URL == "" {
		return gerror.NewErrValidationFailed("The new repository url must be set")
	}
	return nil
}

// RepositoryDocument describes a source repository to web clients.
type RepositoryDocument struct {
	ID    int64  `json:"id"`
	URL   string `json:"url"`
	Name  string `json:"name"`
	State string `json:"state"`
}
