// ABOUTME: Build and product identification
// ABOUTME: Version is overridable at link time with -ldflags "-X"
package version

// Version is the release of this build
var Version = "0.3.0"

const (
	// Product is reported in bridge/hello device info
	Product = "Resonate Bridge"
	// Manufacturer is reported in bridge/hello device info
	Manufacturer = "Resonate"
)
