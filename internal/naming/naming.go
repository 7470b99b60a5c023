// Package naming provides infrastructure-level naming conventions shared
// by every hypervisor backend: instance name validation, deterministic MAC
// address calculation, and the file naming patterns for per-instance
// artifacts (boot disks, cloud-init seed images).
//
// These naming rules are backend-independent so an instance created under
// one driver keeps recognizable artifact names under another.
package naming

import (
	"crypto/sha256"
	"fmt"
	"regexp"
)

// instanceNamePattern matches valid instance names: a letter, then letters,
// digits or hyphens, not ending with a hyphen. Hostname-safe by
// construction, since instance names become guest hostnames.
var instanceNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*[a-zA-Z0-9]$|^[a-zA-Z]$`)

// maxInstanceNameLength keeps names usable as hostnames (RFC 1035 label).
const maxInstanceNameLength = 63

// ValidateInstanceName checks that name can serve as an instance name.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > maxInstanceNameLength {
		return fmt.Errorf("instance name %q exceeds %d characters", name, maxInstanceNameLength)
	}
	if !instanceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: must start with a letter and contain only letters, digits and hyphens", name)
	}
	return nil
}

// MACFromName calculates a deterministic MAC address from an instance name.
// Uses the QEMU/KVM locally-administered prefix 52:54:00 with three bytes
// derived from the name, so the same instance gets the same MAC across
// re-creates and the guest keeps its DHCP lease.
//
// Example: name "primary" always maps to the same 52:54:00:xx:xx:xx.
func MACFromName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", sum[0], sum[1], sum[2])
}

// DiskNameBoot returns the file name for an instance's boot disk.
// Format: {name}_boot.qcow2
func DiskNameBoot(name string) string {
	return fmt.Sprintf("%s_boot.qcow2", name)
}

// SeedNameCloudInit returns the file name for an instance's cloud-init
// seed image. Format: {name}_cloudinit.iso
func SeedNameCloudInit(name string) string {
	return fmt.Sprintf("%s_cloudinit.iso", name)
}
