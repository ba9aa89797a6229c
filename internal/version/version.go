// Package version exposes the engine build version.
package version

// version is overridden at build time via -ldflags.
var version = "0.0.0-dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the engine version string.
func String() string {
	return version
}
