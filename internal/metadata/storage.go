// Package metadata persists instance records under the daemon's storage
// path. Records are YAML serializations of the full VirtualMachine object,
// one file per instance, so the daemon can rebuild its instance table after
// a restart regardless of which hypervisor backend owns the instances.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// recordExt is the file extension for instance records.
const recordExt = ".yaml"

// Store reads and writes instance records in a single directory.
type Store struct {
	dir string
}

// NewStore creates a record store under storageBase. The records directory
// is created on first save, not here, so constructing a store is cheap and
// cannot fail.
func NewStore(storageBase string) *Store {
	return &Store{dir: filepath.Join(storageBase, "records")}
}

// recordPath returns the file path for an instance's record.
func (s *Store) recordPath(name string) string {
	return filepath.Join(s.dir, name+recordExt)
}

// Save persists the instance record, replacing any existing one. The write
// goes through a temp file and rename so a crash mid-write cannot leave a
// truncated record behind.
func (s *Store) Save(vm *v1alpha1.VirtualMachine) error {
	if vm == nil {
		return fmt.Errorf("instance record cannot be nil")
	}
	if vm.Name == "" {
		return fmt.Errorf("instance record has no name")
	}

	data, err := yaml.Marshal(vm)
	if err != nil {
		return fmt.Errorf("failed to marshal instance record: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, vm.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write record for %s: %w", vm.Name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp record: %w", err)
	}

	if err := os.Rename(tmpName, s.recordPath(vm.Name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to persist record for %s: %w", vm.Name, err)
	}
	return nil
}

// Load reads the record for the named instance.
func (s *Store) Load(name string) (*v1alpha1.VirtualMachine, error) {
	data, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read record for %s: %w", name, err)
	}

	var vm v1alpha1.VirtualMachine
	if err := yaml.Unmarshal(data, &vm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record for %s: %w", name, err)
	}
	return &vm, nil
}

// Exists reports whether a record for the named instance exists.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.recordPath(name))
	return err == nil
}

// List loads all instance records, sorted by name. An absent records
// directory yields an empty list: a fresh host has no instances.
func (s *Store) List() ([]*v1alpha1.VirtualMachine, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read records directory: %w", err)
	}

	var vms []*v1alpha1.VirtualMachine
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), recordExt)
		vm, err := s.Load(name)
		if err != nil {
			return nil, err
		}
		vms = append(vms, vm)
	}

	sort.Slice(vms, func(i, j int) bool { return vms[i].Name < vms[j].Name })
	return vms, nil
}

// Delete removes the record for the named instance. Deleting a record that
// does not exist is not an error.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.recordPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete record for %s: %w", name, err)
	}
	return nil
}
