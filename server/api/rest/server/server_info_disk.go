//go:build !windows
// +build !windows

package server

import "syscall"

// readDiskUsage reports used and total bytes of the filesystem at path.
func readDiskUsage(path string) (used, total uint64) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return 0, 0
	}
	total = uint64(fs.Blocks) * uint64(fs.Bsize)
	free := uint64(fs.Bavail) * uint64(fs.Bsize)
	if total >= free {
		used = total - free
	}
	return used, total
}
