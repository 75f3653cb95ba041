// Package version reports build information for wgclient.
//
// The variables are set with ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/wgclient/version.Version=1.0.0 \
//	    -X github.com/go-i2p/wgclient/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"runtime"
	"strings"
)

// Product is the name sent to the credential service.
const Product = "wgclient"

var (
	// Version is the release version. Development builds report "dev".
	Version = "dev"
	// GitCommit is the short commit hash.
	GitCommit = ""
	// BuildTime is an RFC 3339 build timestamp.
	BuildTime = ""
)

// Full returns the version with commit and build time when known.
func Full() string {
	var b strings.Builder
	b.WriteString(Version)
	if GitCommit != "" {
		b.WriteString("-" + GitCommit)
	}
	if BuildTime != "" {
		b.WriteString(" (" + BuildTime + ")")
	}
	return b.String()
}

// UserAgent identifies this client to the credential service, e.g.
// "wgclient/1.0.0 (linux; amd64)".
func UserAgent() string {
	return Product + "/" + Version + " (" + runtime.GOOS + "; " + runtime.GOARCH + ")"
}
