// Package version holds build information for the gateway binary.
//
// Set at build time with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/exchange-gateway/internal/version.Version=1.2.0 \
//	                   -X github.com/rickgao/exchange-gateway/internal/version.Commit=$(git rev-parse --short HEAD)" \
//	    ./cmd/gateway
package version

import "runtime"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build information reported on /health.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// UserAgent is sent with every exchange request.
func UserAgent() string {
	return "exchange-gateway/" + Version + " (" + Commit + ")"
}
