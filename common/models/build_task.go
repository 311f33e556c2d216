package models

// BuildTask maps a scheduled build to the token the backend and the build
// node use to identify it. Rows only exist while a build is in flight.
type BuildTask struct {
	ID      int64  `json:"id" goqu:"skipinsert,skipupdate" db:"buildtask_id"`
	BuildID int64  `json:"build_id" db:"buildtask_build_id"`
	TaskID  string `json:"task_id" db:"buildtask_task_id"`
}
