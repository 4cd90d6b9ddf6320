// Package version carries build information, overridden at link time
// with -ldflags "-X github.com/veesix-networks/odp/pkg/version.Version=...".
package version

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func Full() string {
	return Version + " (" + Commit + ") built on " + Date
}
