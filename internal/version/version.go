package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Version is set at build time with -ldflags "-X .../internal/version.Version=v1.2.3".
var Version = "dev"

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// String renders info on one line, e.g. "v1.2.0 (abc1234) linux/amd64".
func (i Info) String() string {
	if i.Commit == "" {
		return fmt.Sprintf("%s %s", i.Version, i.Platform)
	}
	return fmt.Sprintf("%s (%s) %s", i.Version, i.Commit, i.Platform)
}

var buildInfo = sync.OnceValue(func() Info {
	info := Info{
		Version:   Version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			info.Commit = shortCommit(s.Value)
		}
	}
	return info
})

// Get returns the build information, falling back to the module version
// embedded by go install when Version was not set.
func Get() Info {
	return buildInfo()
}

func shortCommit(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
