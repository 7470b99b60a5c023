// Package disk manages the on-host artifacts behind an instance: its
// directory under the storage path, the qcow2 boot disk, and the cloud-init
// seed image.
//
// Disks are created with qemu-img and backing files rather than hypervisor
// storage pools: a copy-on-write overlay over the base image keeps launches
// fast and the base image untouched, and the same layout works for both the
// process-level and the libvirt backend.
package disk

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/jbweber/crucible/internal/naming"
)

const (
	// DirPermissions are the permissions for instance directories.
	DirPermissions = 0755

	// FilePermissions are the permissions for instance disk files.
	FilePermissions = 0644
)

// Manager handles per-instance storage under a single base directory.
// The layout is {base}/instances/{name}/ with the boot disk and seed
// image inside.
type Manager struct {
	storageBase string
}

// NewManager creates a storage manager rooted at storageBase.
func NewManager(storageBase string) *Manager {
	return &Manager{storageBase: filepath.Join(storageBase, "instances")}
}

// InstanceDirectory returns the full path to the instance's storage
// directory.
func (m *Manager) InstanceDirectory(name string) string {
	return filepath.Join(m.storageBase, name)
}

// BootDiskPath returns the full path to the instance's boot disk.
func (m *Manager) BootDiskPath(name string) string {
	return filepath.Join(m.InstanceDirectory(name), naming.DiskNameBoot(name))
}

// SeedPath returns the full path to the instance's cloud-init seed image.
func (m *Manager) SeedPath(name string) string {
	return filepath.Join(m.InstanceDirectory(name), naming.SeedNameCloudInit(name))
}

// EnsureInstanceDirectory creates the instance storage directory.
func (m *Manager) EnsureInstanceDirectory(name string) error {
	dir := m.InstanceDirectory(name)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create instance directory %s: %w", dir, err)
	}
	return nil
}

// InstanceExists reports whether the instance's storage directory exists.
func (m *Manager) InstanceExists(name string) (bool, error) {
	info, err := os.Stat(m.InstanceDirectory(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check instance directory: %w", err)
	}
	return info.IsDir(), nil
}

// CreateBootDisk creates the instance's qcow2 boot disk with qemu-img.
// When backingImage is set the disk is a copy-on-write overlay over it;
// otherwise an empty disk of the given size is created.
func (m *Manager) CreateBootDisk(name, backingImage string, sizeGB int) error {
	if sizeGB <= 0 {
		return fmt.Errorf("boot disk size must be positive, got %d", sizeGB)
	}

	diskPath := m.BootDiskPath(name)

	var cmd *exec.Cmd
	if backingImage != "" {
		cmd = exec.Command(
			"qemu-img", "create",
			"-f", "qcow2",
			"-b", backingImage,
			"-F", "qcow2",
			diskPath,
			fmt.Sprintf("%dG", sizeGB),
		)
	} else {
		cmd = exec.Command(
			"qemu-img", "create",
			"-f", "qcow2",
			diskPath,
			fmt.Sprintf("%dG", sizeGB),
		)
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create boot disk %s: %w\nOutput: %s", diskPath, err, string(output))
	}

	if err := os.Chmod(diskPath, FilePermissions); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", diskPath, err)
	}
	return nil
}

// WriteSeedImage writes the cloud-init seed ISO next to the boot disk.
func (m *Manager) WriteSeedImage(name string, isoData []byte) error {
	if len(isoData) == 0 {
		return fmt.Errorf("ISO data cannot be empty")
	}

	isoPath := m.SeedPath(name)
	if err := os.WriteFile(isoPath, isoData, FilePermissions); err != nil {
		return fmt.Errorf("failed to write cloud-init seed %s: %w", isoPath, err)
	}
	return nil
}

// RemoveInstance removes the instance's storage directory and everything in
// it. Removing an instance that has no directory is not an error.
func (m *Manager) RemoveInstance(name string) error {
	dir := m.InstanceDirectory(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete instance directory %s: %w", dir, err)
	}
	return nil
}

// CheckDiskSpace verifies that the storage filesystem has room for a disk
// of the given size.
func (m *Manager) CheckDiskSpace(sizeGB int) error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(filepath.Dir(m.storageBase), &stat); err != nil {
		return fmt.Errorf("failed to get filesystem stats for %s: %w", m.storageBase, err)
	}

	availableGB := (stat.Bavail * uint64(stat.Bsize)) / (1024 * 1024 * 1024)
	if uint64(sizeGB) > availableGB {
		return fmt.Errorf("insufficient disk space: need %dGB, have %dGB available", sizeGB, availableGB)
	}
	return nil
}
