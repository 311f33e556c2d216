package util

import (
	"strings"
)

// FilterOSArgs masks the values of all command line flags not on whitelist,
// so connection strings and API tokens never reach the startup log. Both the
// "--flag value" and "--flag=value" forms are handled.
func FilterOSArgs(args []string, whitelist []string) []string {
	safe := make(map[string]struct{}, len(whitelist))
	for _, name := range whitelist {
		safe[name] = struct{}{}
	}
	mask := func(value string) string {
		return strings.Repeat("*", len(value))
	}

	sanitized := make([]string, len(args))
	sanitizeNext := false
	for i, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			if sanitizeNext {
				sanitized[i] = mask(arg)
			} else {
				sanitized[i] = arg
			}
			sanitizeNext = false
			continue
		}
		sanitizeNext = false
		name, value, joined := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		_, ok := safe[strings.ToLower(name)]
		if joined {
			if ok {
				sanitized[i] = arg
			} else {
				sanitized[i] = "--" + name + "=" + mask(value)
			}
			continue
		}
		sanitized[i] = arg
		sanitizeNext = !ok
	}
	return sanitized
}
