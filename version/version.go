// Package version holds build metadata stamped in via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "\
//	  -X github.com/fablewright/fable/version.GitRelease=$(git describe --tags) \
//	  -X github.com/fablewright/fable/version.GitCommit=$(git rev-parse HEAD) \
//	  -X github.com/fablewright/fable/version.GitCommitDate=$(git log -1 --format=%cs)"
var (
	// GitRelease is the release tag the binary was built from.
	GitRelease = "dev"

	// GitCommit is the commit hash.
	GitCommit = "unknown"

	// GitCommitDate is the commit date.
	GitCommitDate = "unknown"
)

// GoInfo describes the toolchain and target platform.
var GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
