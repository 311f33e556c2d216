package documents

import "net/http"

// StatusDocument describes the server to web clients. The field names are
// part of the client protocol.
type StatusDocument struct {
	VersionMoliorServer string `json:"version_molior_server"`
	MaintenanceMessage  string `json:"maintenance_message"`
	MaintenanceMode     bool   `json:"maintenance_mode"`
	SSHKey              string `json:"sshkey"`
	GPGURL              string `json:"gpgurl"`
}

// MaintenanceRequest carries the maintenance settings to change. Both fields
// are optional; an empty string leaves the setting untouched.
type MaintenanceRequest struct {
	MaintenanceMode    string `json:"maintenance_mode"`
	MaintenanceMessage string `json:"maintenance_message"`
}

func (d *MaintenanceRequest) Bind(r *http.Request) error {
	return nil
}

// MaintenanceDocument reports the maintenance settings after a change. The
// pointer fields distinguish unchanged settings from changed ones.
type MaintenanceDocument struct {
	MaintenanceMode    *bool   `json:"maintenance_mode,omitempty"`
	MaintenanceMessage *string `json:"maintenance_message,omitempty"`
}
