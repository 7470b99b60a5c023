package cloudinit

import (
	"bytes"
	"fmt"
	"os"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// GenerateISO creates a cloud-init NoCloud ISO image for an instance.
//
// The generated ISO contains the files cloud-init's NoCloud datasource
// reads from the seed volume:
//   - user-data: Cloud-config YAML with hostname, SSH user and key
//   - meta-data: Instance metadata (instance-id, local-hostname)
//   - network-config: Netplan v2 configuration, only when the instance
//     has extra bridged interfaces
//
// The ISO volume label is set to "CIDATA" as required by the cloud-init
// NoCloud datasource.
//
// Returns the ISO image as a byte slice.
func GenerateISO(desc *v1alpha1.VirtualMachine) ([]byte, error) {
	if desc == nil {
		return nil, fmt.Errorf("instance description cannot be nil")
	}

	userData, err := GenerateUserData(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	networkConfig, err := GenerateNetworkConfig(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// Cleanup errors are ignored: the image bytes are already
		// captured by the time cleanup runs.
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}
	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}
	if networkConfig != "" {
		if err := writer.AddFile(bytes.NewReader([]byte(networkConfig)), "network-config"); err != nil {
			return nil, fmt.Errorf("failed to add network-config: %w", err)
		}
	}

	var buf bytes.Buffer
	// The volume identifier must be the uppercase "CIDATA" per the
	// NoCloud specification.
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteSeed generates the NoCloud ISO for an instance and writes it to path.
func WriteSeed(desc *v1alpha1.VirtualMachine, path string) error {
	image, err := GenerateISO(desc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, image, 0644); err != nil {
		return fmt.Errorf("failed to write seed image %s: %w", path, err)
	}
	return nil
}
