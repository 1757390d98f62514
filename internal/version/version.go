// Package version contains build version information set via ldflags.
package version

// Build information. Overridden at build time with
// -ldflags "-X github.com/bissquit/deepvisas/internal/version.Version=...".
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
