package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jbweber/crucible/api/v1alpha1"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	vm := v1alpha1.NewVirtualMachine("primary")
	vm.Spec.VCPUs = 4
	vm.Spec.MemoryMiB = 2048
	vm.Spec.Image = "release:22.04"
	vm.Status.State = "running"
	vm.Status.Driver = "qemu"

	if err := store.Save(vm); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load("primary")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Name != "primary" {
		t.Errorf("loaded name = %q", loaded.Name)
	}
	if loaded.Spec.VCPUs != 4 || loaded.Spec.MemoryMiB != 2048 {
		t.Errorf("spec not round-tripped: %+v", loaded.Spec)
	}
	if loaded.Spec.Image != "release:22.04" {
		t.Errorf("image not round-tripped: %q", loaded.Spec.Image)
	}
	if loaded.Status.State != "running" || loaded.Status.Driver != "qemu" {
		t.Errorf("status not round-tripped: %+v", loaded.Status)
	}
	if loaded.UID != vm.UID {
		t.Errorf("UID not round-tripped: %q != %q", loaded.UID, vm.UID)
	}
}

func TestStore_SaveReplacesExisting(t *testing.T) {
	store := NewStore(t.TempDir())

	vm := v1alpha1.NewVirtualMachine("primary")
	vm.Status.State = "off"
	if err := store.Save(vm); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	vm.Status.State = "running"
	if err := store.Save(vm); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := store.Load("primary")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Status.State != "running" {
		t.Errorf("expected replaced record, got state %q", loaded.Status.State)
	}
}

func TestStore_SaveValidation(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.Save(nil); err == nil {
		t.Error("expected error for nil record")
	}
	if err := store.Save(&v1alpha1.VirtualMachine{}); err == nil {
		t.Error("expected error for unnamed record")
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Load("absent"); err == nil {
		t.Error("expected error for missing record")
	}
}

func TestStore_Exists(t *testing.T) {
	store := NewStore(t.TempDir())

	if store.Exists("primary") {
		t.Error("expected no record before save")
	}
	if err := store.Save(v1alpha1.NewVirtualMachine("primary")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !store.Exists("primary") {
		t.Error("expected record after save")
	}
}

func TestStore_ListSortedByName(t *testing.T) {
	store := NewStore(t.TempDir())

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := store.Save(v1alpha1.NewVirtualMachine(name)); err != nil {
			t.Fatalf("Save %s failed: %v", name, err)
		}
	}

	vms, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if len(vms) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(vms))
	}
	for i, name := range want {
		if vms[i].Name != name {
			t.Errorf("record %d = %q, want %q", i, vms[i].Name, name)
		}
	}
}

func TestStore_ListEmptyWithoutDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "never-created"))

	vms, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(vms) != 0 {
		t.Errorf("expected empty list, got %d records", len(vms))
	}
}

func TestStore_ListIgnoresForeignFiles(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base)
	if err := store.Save(v1alpha1.NewVirtualMachine("primary")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "records", "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to plant foreign file: %v", err)
	}

	vms, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(vms) != 1 {
		t.Errorf("expected foreign files ignored, got %d records", len(vms))
	}
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Save(v1alpha1.NewVirtualMachine("primary")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete("primary"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Exists("primary") {
		t.Error("expected record to be gone")
	}

	// Deleting again is a no-op.
	if err := store.Delete("primary"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}
