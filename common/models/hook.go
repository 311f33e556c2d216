package models

// PostBuildHook is a web hook attached to a repository within a project
// version. URL and body are templates rendered with the build context.
type PostBuildHook struct {
	ID                   int64  `json:"id" goqu:"skipinsert,skipupdate" db:"hook_id"`
	RepoProjectVersionID int64  `json:"repo_project_version_id" db:"hook_srpv_id"`
	Method               string `json:"method" db:"hook_method"`
	URL                  string `json:"url" db:"hook_url"`
	Body                 string `json:"body" db:"hook_body"`
	SkipSSL              bool   `json:"skip_ssl" db:"hook_skip_ssl"`
	Enabled              bool   `json:"enabled" db:"hook_enabled"`
	// NotifyOverall fires the hook for top-level builds, NotifySrc for
	// source builds and NotifyDeb for per-architecture deb builds.
	NotifyOverall bool `json:"notify_overall" db:"hook_notify_overall"`
	NotifySrc     bool `json:"notify_src" db:"hook_notify_src"`
	NotifyDeb     bool `json:"notify_deb" db:"hook_notify_deb"`
}

// AppliesTo reports whether the hook is configured for builds of this type.
func (m *PostBuildHook) AppliesTo(buildType BuildType) bool {
	switch buildType {
	case BuildTypeBuild:
		return m.NotifyOverall
	case BuildTypeSource:
		return m.NotifySrc
	case BuildTypeDeb:
		return m.NotifyDeb
	default:
		return false
	}
}
