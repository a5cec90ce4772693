// ABOUTME: Version constants of the player
// ABOUTME: Reported to stream servers in the client hello
package version

const (
	// Version is the software version.
	Version = "0.3.0"

	// Product is the product name.
	Product = "resonate-av"

	// Manufacturer is the producer of the software.
	Manufacturer = "Resonate Protocol"
)
