//go:build !windows
// +build !windows

package app

const (
	defaultWorkingDirectory       = "/var/lib/molior"
	defaultSQLiteConnectionString = "file:/var/lib/molior/db/sqlite.db?cache=shared"
	defaultSettingsFile           = "/etc/molior/molior.yml"
)
