//go:build windows
// +build windows

package app

const (
	defaultWorkingDirectory       = "C:\\ProgramData\\molior"
	defaultSQLiteConnectionString = "file:C:\\ProgramData\\molior\\db\\sqlite.db?cache=shared"
	defaultSettingsFile           = "C:\\ProgramData\\molior\\molior.yml"
)
