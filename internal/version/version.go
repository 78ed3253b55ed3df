// Package version resolves the build version reported by /health and the CLI.
package version

import (
	"os"
	"strings"
)

// Version is overridden at link time with -ldflags "-X ...version.Version=".
var Version = "dev"

// Resolve prefers the first line of the VERSION file at path and falls back
// to the linked Version.
func Resolve(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return Version
	}
	line, _, _ := strings.Cut(string(data), "\n")
	if v := strings.TrimSpace(line); v != "" {
		return v
	}
	return Version
}
