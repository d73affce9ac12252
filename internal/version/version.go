// Package version reports which desk build is running. The values show up in
// the boot log line and on /health.
//
// Release builds stamp them with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/gpttools-desk/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/gpttools-desk/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/gpttools-desk/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	         ./cmd/desk
package version

var (
	// Version of the desk release, "dev" for local builds.
	Version = "dev"

	// Commit is the short git hash the binary was built from.
	Commit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String formats the build as "version (commit)", adding the build time
// when it was stamped.
func String() string {
	s := Version + " (" + Commit + ")"
	if BuildTime != "unknown" && BuildTime != "" {
		s += " built " + BuildTime
	}
	return s
}
