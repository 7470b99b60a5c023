package platform

import (
	"os"
	"path/filepath"
)

// Capabilities describes what a driver supports: which image remotes it can
// fetch from and which guest aliases it understands. The daemon consults
// this table when validating launch requests, before any backend work
// happens.
type Capabilities struct {
	// Remotes are the image remotes the driver accepts.
	Remotes []string

	// Aliases are the bare guest aliases the driver accepts.
	Aliases []string
}

// Image remotes.
const (
	RemoteRelease   = "release"
	RemoteDaily     = "daily"
	RemoteSnapcraft = "snapcraft"
)

// commonAliases are understood by every driver.
var commonAliases = []string{"default", "lts", "devel"}

// capabilityMatrix is the static per-driver support table. The lxd driver
// cannot serve snapcraft build images, so that remote is absent from its
// row.
var capabilityMatrix = map[Driver]Capabilities{
	DriverQEMU: {
		Remotes: []string{RemoteRelease, RemoteDaily, RemoteSnapcraft},
		Aliases: commonAliases,
	},
	DriverLibvirt: {
		Remotes: []string{RemoteRelease, RemoteDaily, RemoteSnapcraft},
		Aliases: commonAliases,
	},
	DriverLXD: {
		Remotes: []string{RemoteRelease, RemoteDaily},
		Aliases: commonAliases,
	},
}

// CapabilitiesFor returns the capability row for a driver. Unknown drivers
// get an empty row, which supports nothing.
func CapabilitiesFor(driver Driver) Capabilities {
	return capabilityMatrix[driver]
}

// IsRemoteSupported reports whether the driver can fetch images from the
// named remote.
func IsRemoteSupported(driver Driver, remote string) bool {
	for _, r := range capabilityMatrix[driver].Remotes {
		if r == remote {
			return true
		}
	}
	return false
}

// IsAliasSupported reports whether the driver understands the bare guest
// alias.
func IsAliasSupported(driver Driver, alias string) bool {
	for _, a := range capabilityMatrix[driver].Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

// DefaultServerAddress returns the address clients use to reach the daemon.
// Inside a snap the socket lives under SNAP_COMMON; elsewhere it is under
// /var/run.
func DefaultServerAddress() string {
	if common := os.Getenv("SNAP_COMMON"); common != "" {
		return "unix://" + filepath.Join(common, "crucible_socket")
	}
	return "unix:///var/run/crucible_socket"
}
