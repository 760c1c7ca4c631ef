// Package version tracks build metadata for the sampler binaries.
package version

import (
	"fmt"
	"runtime"
	"sync"
)

// Info describes build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

var (
	info      = Info{Version: "dev", GoVersion: runtime.Version()}
	infoMutex sync.RWMutex
)

// Set updates the build metadata reported by the binaries.
func Set(v Info) {
	infoMutex.Lock()
	defer infoMutex.Unlock()

	if v.Version == "" {
		v.Version = "dev"
	}
	if v.GoVersion == "" {
		v.GoVersion = runtime.Version()
	}
	info = v
}

// Current returns the configured build metadata.
func Current() Info {
	infoMutex.RLock()
	defer infoMutex.RUnlock()
	return info
}

// String renders the metadata on one line for -version output.
func (i Info) String() string {
	out := i.Version
	if i.Commit != "" {
		out += fmt.Sprintf(" (%s)", i.Commit)
	}
	if i.BuildTime != "" {
		out += " built " + i.BuildTime
	}
	return out + " " + i.GoVersion
}
