package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/sjzar/voicelog/pkg/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String returns a one-line build description.
func String() string {
	return fmt.Sprintf("voicelog %s (%s, built %s, %s/%s)", Version, Commit, BuildTime, runtime.GOOS, runtime.GOARCH)
}
