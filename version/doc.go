// Package version reports the build version of a streamkit binary.
//
// Values are set at compile time via -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/streamkit/version.Version=1.0.0"
//
// When unset, the VCS revision stamped by the Go toolchain is used.
package version
