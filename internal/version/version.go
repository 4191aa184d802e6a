package version

import "fmt"

// Set at build time with -ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Full() string {
	return fmt.Sprintf("scribe %s, commit %s, built at %s", Version, Commit, Date)
}
