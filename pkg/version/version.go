// Package version holds the build version of hwbench.
package version

// Version is the symbolic version of this build. It is overridden at link
// time with -ldflags "-X github.com/jellyfin/hwbench/pkg/version.Version=...".
var Version = "v0.0.0-dev"
