package models

// Chroot records a build environment produced by a chroot build for one
// base mirror and architecture.
type Chroot struct {
	ID int64 `json:"id" goqu:"skipinsert,skipupdate" db:"chroot_id"`
	// BuildID is the chroot build that created this environment.
	BuildID      int64  `json:"build_id" db:"chroot_build_id"`
	BasemirrorID int64  `json:"basemirror_id" db:"chroot_basemirror_id"`
	Architecture string `json:"architecture" db:"chroot_architecture"`
	Ready        bool   `json:"ready" db:"chroot_ready"`
}
