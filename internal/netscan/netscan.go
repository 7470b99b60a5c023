// Package netscan discovers host network interfaces that can back VM
// networking, by walking a sysfs-style device tree (normally /sys/class/net).
//
// The scan is deterministic for a given on-disk tree and never fails:
// interfaces that cannot be read or do not qualify are silently excluded.
// Taking the tree root as a parameter keeps the walk testable against
// fixture directories.
package netscan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRoot is the kernel's network class device tree.
const DefaultRoot = "/sys/class/net"

// Interface types reported by Scan.
const (
	TypeEthernet = "ethernet"
	TypeBridge   = "bridge"
)

// arphrdEther is the ARPHRD_ETHER value exposed in each interface's `type`
// attribute. Anything else (loopback, tunnels, protocol devices) is skipped.
const arphrdEther = "1"

// InterfaceInfo describes one usable host interface.
type InterfaceInfo struct {
	// ID is the interface name, unique within a scan.
	ID string
	// Type is TypeEthernet or TypeBridge.
	Type string
	// Description is free text; for bridges it names the recognized member
	// interfaces.
	Description string
}

// Scan classifies the immediate subdirectories of root as network interfaces.
//
// An entry qualifies when it is wired Ethernet class: no `wireless` marker,
// `type` reads as ARPHRD_ETHER, and any `DEVTYPE=` in `uevent` names a
// recognized subtype (allow-list; plain NICs have none). A `bridge` marker
// directory classifies the entry as a bridge and its `brif` members that are
// themselves recognized interfaces are listed in the description.
//
// Scans rooted under a `virtual` device tree yield nothing: virtual devices
// are never offered to VMs, and callers always pass the physical root.
func Scan(root string) map[string]InterfaceInfo {
	infos := map[string]InterfaceInfo{}

	if underVirtualTree(root) {
		return infos
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return infos
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ifaceType, ok := classify(filepath.Join(root, name)); ok {
			infos[name] = InterfaceInfo{
				ID:          name,
				Type:        ifaceType,
				Description: describe(ifaceType),
			}
		}
	}

	// Second pass: bridges describe their recognized members. Unrecognized
	// member names are skipped rather than reported.
	for name, info := range infos {
		if info.Type != TypeBridge {
			continue
		}
		members := bridgeMembers(filepath.Join(root, name), infos)
		if len(members) > 0 {
			info.Description = fmt.Sprintf("Network bridge with %s", strings.Join(members, ", "))
			infos[name] = info
		}
	}

	return infos
}

// classify decides whether the interface at dir qualifies and, if so, whether
// it is a bridge or a plain ethernet device.
func classify(dir string) (string, bool) {
	if _, err := os.Stat(filepath.Join(dir, "wireless")); err == nil {
		return "", false
	}

	typeBytes, err := os.ReadFile(filepath.Join(dir, "type"))
	if err != nil || strings.TrimSpace(string(typeBytes)) != arphrdEther {
		return "", false
	}

	if !devtypeRecognized(filepath.Join(dir, "uevent")) {
		return "", false
	}

	if st, err := os.Stat(filepath.Join(dir, "bridge")); err == nil && st.IsDir() {
		return TypeBridge, true
	}
	return TypeEthernet, true
}

// devtypeRecognized applies the DEVTYPE allow-list: an absent uevent file or
// absent DEVTYPE line means a plain NIC and is accepted; a named subtype is
// accepted only when explicitly recognized.
func devtypeRecognized(ueventPath string) bool {
	data, err := os.ReadFile(ueventPath)
	if err != nil {
		return true
	}
	for _, line := range strings.Split(string(data), "\n") {
		devtype, found := strings.CutPrefix(strings.TrimSpace(line), "DEVTYPE=")
		if !found {
			continue
		}
		switch devtype {
		case "", "bridge":
			return true
		default:
			return false
		}
	}
	return true
}

// bridgeMembers lists the bridge's brif entries that name interfaces
// recognized by this scan, sorted by directory order.
func bridgeMembers(dir string, known map[string]InterfaceInfo) []string {
	entries, err := os.ReadDir(filepath.Join(dir, "brif"))
	if err != nil {
		return nil
	}

	var members []string
	for _, entry := range entries {
		if _, ok := known[entry.Name()]; ok {
			members = append(members, entry.Name())
		}
	}
	return members
}

func describe(ifaceType string) string {
	if ifaceType == TypeBridge {
		return "Network bridge"
	}
	return "Ethernet device"
}

// underVirtualTree reports whether root sits inside a `virtual` device tree
// (e.g. /sys/devices/virtual/net).
func underVirtualTree(root string) bool {
	for _, elem := range strings.Split(filepath.Clean(root), string(filepath.Separator)) {
		if elem == "virtual" {
			return true
		}
	}
	return false
}
