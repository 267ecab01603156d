package version

import "fmt"

// Set at build time with -ldflags "-X github.com/d1nch8g/aihl/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Full() string {
	return fmt.Sprintf("aihl %s, commit %s, built at %s", Version, Commit, Date)
}
