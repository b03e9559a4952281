// Package version reports build metadata. Values come from -ldflags first
// and from the module build info embedded by the Go toolchain otherwise:
//
//	go build -ldflags "-X github.com/nimburion/docops/pkg/version.AppVersion=v1.2.3 \
//	  -X github.com/nimburion/docops/pkg/version.GitCommit=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	Unknown            = "unknown"
	DevelopmentVersion = "dev"
)

// Set at link time.
var (
	AppVersion = ""
	GitCommit  = ""
	BuildTime  = ""
)

var readBuildInfo = debug.ReadBuildInfo

// Info is the version report of one service binary.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns the metadata of the running binary for service.
func Current(service string) Info {
	info := Info{
		Service:   firstNonEmpty(service, Unknown),
		Version:   strings.TrimSpace(AppVersion),
		Commit:    strings.TrimSpace(GitCommit),
		BuildTime: strings.TrimSpace(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := readBuildInfo(); ok {
		info.fillFrom(bi)
	}
	info.Version = firstNonEmpty(info.Version, DevelopmentVersion)
	info.Commit = firstNonEmpty(info.Commit, Unknown)
	info.BuildTime = firstNonEmpty(info.BuildTime, Unknown)
	return info
}

// fillFrom sets fields the linker left empty from embedded module and VCS
// data. A build from a modified tree gets a "-dirty" commit.
func (i *Info) fillFrom(bi *debug.BuildInfo) {
	if i.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	if bi.GoVersion != "" {
		i.GoVersion = bi.GoVersion
	}
	var revision, modified, vcsTime string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			vcsTime = s.Value
		}
	}
	if i.Commit == "" && revision != "" {
		i.Commit = revision
		if modified == "true" {
			i.Commit += "-dirty"
		}
	}
	if i.BuildTime == "" {
		i.BuildTime = vcsTime
	}
}

// String formats i for logs.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)", i.Service, i.Version, i.Commit, i.BuildTime, i.GoVersion, i.Platform)
}

func firstNonEmpty(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
