// Package version reports the build of the running binary.
package version

import (
	"runtime/debug"
	"sync"
)

// Version is overridden at build time with -ldflags "-X walktour/pkg/version.Version=...".
var Version = "v0.3.0"

// Build describes the binary for the version endpoint.
type Build struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

var readBuild = sync.OnceValue(func() Build {
	b := Build{Version: Version}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	b.GoVersion = info.GoVersion
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
})

// Current returns the build info, read once.
func Current() Build {
	return readBuild()
}

// String renders "v0.3.0 (abc1234, dirty)".
func (b Build) String() string {
	s := b.Version
	if b.Revision == "" {
		return s
	}
	rev := b.Revision
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if b.Modified {
		return s + " (" + rev + ", dirty)"
	}
	return s + " (" + rev + ")"
}
