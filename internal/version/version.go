// Package version holds the build version, overridable at link time:
//
//	go build -ldflags "-X github.com/aristath/slimwatch/internal/version.Version=1.2.0"
package version

// Version is the semantic version of this build.
var Version = "1.0.0"
