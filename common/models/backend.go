package models

// BuildRequest carries everything a build node needs to produce the binary
// packages of one deb build. It is handed to the backend when the build is
// scheduled and serialized into the node environment.
type BuildRequest struct {
	BuildID int64 `json:"build_id"`
	// Token authenticates the node when it reports progress for this build.
	Token          string   `json:"token"`
	SourceName     string   `json:"sourcename"`
	Version        string   `json:"version"`
	Architecture   string   `json:"arch"`
	DistRelease    string   `json:"distrelease"`
	DistVersion    string   `json:"distversion"`
	Project        string   `json:"project"`
	ProjectVersion string   `json:"projectversion"`
	AptServer      string   `json:"apt_server"`
	AptURLs        string   `json:"apt_urls"`
	AptKeys        []string `json:"apt_keys"`
	RunLintian     bool     `json:"run_lintian"`
}

const (
	// BackendSchedule hands a build request to the backend.
	BackendSchedule BackendEventKind = "schedule"
	// BackendStarted reports that a node started working on a build.
	BackendStarted BackendEventKind = "started"
	// BackendSucceeded reports that the build step finished successfully.
	BackendSucceeded BackendEventKind = "succeeded"
	// BackendFailed reports that the build step failed.
	BackendFailed BackendEventKind = "failed"
	// BackendLoggingDone reports that all build output has been uploaded.
	BackendLoggingDone BackendEventKind = "logging_done"
	// BackendTerminate finalizes a build once both its outcome and the end
	// of its log stream arrived.
	BackendTerminate BackendEventKind = "terminate"
	// BackendAbort asks the backend to stop a running build.
	BackendAbort BackendEventKind = "abort"
	// BackendNodeRegistered reports that a node became available.
	BackendNodeRegistered BackendEventKind = "node_registered"
)

type BackendEventKind string

func (k BackendEventKind) String() string {
	return string(k)
}

// BackendEvent is one item on the backend queue, either an instruction to
// the backend or a progress report from it.
type BackendEvent struct {
	Kind    BackendEventKind `json:"kind"`
	BuildID int64            `json:"build_id,omitempty"`
	// Job is set for schedule events.
	Job *BuildRequest `json:"job,omitempty"`
}

const (
	// PublishSourcePackage publishes the source package of a build.
	PublishSourcePackage PublishAction = "src_publish"
	// PublishBinaryPackages publishes the binary packages of a deb build.
	PublishBinaryPackages PublishAction = "publish"
	// PublishCleanup removes superseded packages from the repositories.
	PublishCleanup PublishAction = "cleanup"
)

type PublishAction string

func (a PublishAction) String() string {
	return string(a)
}

// PublishRequest is one item on the publish queue, consumed by the apt
// repository collaborator.
type PublishRequest struct {
	Action  PublishAction `json:"action"`
	BuildID int64         `json:"build_id,omitempty"`
}
