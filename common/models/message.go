package models

// Subject identifies what kind of entity a websocket message is about.
// The numeric values are part of the client protocol.
type Subject int

const (
	SubjectWebsocket Subject = iota + 1
	SubjectEventWatch
	SubjectUserRole
	SubjectUser
	SubjectProject
	SubjectProjectVersion
	SubjectBuild
	SubjectBuildLog
	SubjectMirror
	SubjectNode
)

// Event identifies what happened to the subject.
type Event int

const (
	EventAdded Event = iota + 1
	EventChanged
	EventRemoved
	EventConnected
	EventDone
)

// Action identifies what a client asks the server to do, e.g. start or stop
// watching a build log.
type Action int

const (
	ActionAdd Action = iota + 1
	ActionChange
	ActionRemove
	ActionStart
	ActionStop
)

// WebsocketEvent is one message broadcast to websocket clients.
type WebsocketEvent struct {
	Subject Subject     `json:"subject"`
	Event   Event       `json:"event"`
	Data    interface{} `json:"data,omitempty"`
}

// Notification is one item on the notification queue: either an event to
// broadcast or a request to run the post build hooks of a build.
type Notification struct {
	Event        *WebsocketEvent `json:"notify,omitempty"`
	HooksBuildID int64           `json:"hooks_build_id,omitempty"`
}
