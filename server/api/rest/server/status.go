package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/render"
	"golang.org/x/crypto/ssh"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/version"
	"github.com/molior-deb/molior/server/api/rest/documents"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/store"
)

const (
	maintenanceModeKey    = "maintenance_mode"
	maintenanceMessageKey = "maintenance_message"
)

// StatusAPI serves the server status and the maintenance switch.
type StatusAPI struct {
	metaDataStore store.MetaDataStore
	gpgKeyURL     services.GPGKeyURL
	*APIBase
}

func NewStatusAPI(
	metaDataStore store.MetaDataStore,
	gpgKeyURL services.GPGKeyURL,
	logFactory logger.LogFactory,
) *StatusAPI {
	return &StatusAPI{
		metaDataStore: metaDataStore,
		gpgKeyURL:     gpgKeyURL,
		APIBase:       NewAPIBase(logFactory("StatusAPI")),
	}
}

// Get returns the server version, the maintenance settings and the public
// keys clients need to talk to the server's repositories.
func (a *StatusAPI) Get(w http.ResponseWriter, r *http.Request) {
	mode, err := a.metaDataStore.Get(r.Context(), nil, maintenanceModeKey, "false")
	if err != nil {
		a.Error(w, r, err)
		return
	}
	message, err := a.metaDataStore.Get(r.Context(), nil, maintenanceMessageKey, "")
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, &documents.StatusDocument{
		VersionMoliorServer: version.VersionToString(),
		MaintenanceMessage:  message,
		MaintenanceMode:     mode == "true",
		SSHKey:              readSSHPublicKey(a.Log),
		GPGURL:              a.gpgKeyURL.String(),
	})
}

// SetMaintenance updates the maintenance settings. Empty fields leave the
// corresponding setting untouched. The mode field carries the mode the client
// currently sees and the server stores its inverse.
func (a *StatusAPI) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	req := &documents.MaintenanceRequest{}
	if err := render.Bind(r, req); err != nil {
		a.Error(w, r, err)
		return
	}
	doc := &documents.MaintenanceDocument{}
	if req.MaintenanceMode != "" {
		mode := "false"
		if req.MaintenanceMode == "false" {
			mode = "true"
		}
		if err := a.metaDataStore.Set(r.Context(), nil, maintenanceModeKey, mode); err != nil {
			a.Error(w, r, err)
			return
		}
		enabled := mode == "true"
		doc.MaintenanceMode = &enabled
	}
	if req.MaintenanceMessage != "" {
		if err := a.metaDataStore.Set(r.Context(), nil, maintenanceMessageKey, req.MaintenanceMessage); err != nil {
			a.Error(w, r, err)
			return
		}
		doc.MaintenanceMessage = &req.MaintenanceMessage
	}
	a.JSON(w, r, doc)
}

// readSSHPublicKey returns the public key repositories must authorize so the
// server can clone them, or an empty string if the server has none.
func readSSHPublicKey(log logger.Log) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".ssh", "id_rsa.pub")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey(data); err != nil {
		log.Warnf("Error parsing ssh public key %s: %s", path, err)
		return ""
	}
	return string(data)
}
