package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/netscan"
)

func sampleVM(name string) *v1alpha1.VirtualMachine {
	vm := v1alpha1.NewVirtualMachine(name)
	vm.Spec.VCPUs = 2
	vm.Spec.MemoryMiB = 2048
	vm.Spec.Image = "release:noble"
	vm.Status.State = "running"
	vm.Status.Driver = "libvirt"
	vm.SetAddress(v1alpha1.AddressTypeIPv4, "10.77.77.5")
	return vm
}

func sampleNetworks() map[string]netscan.InterfaceInfo {
	return map[string]netscan.InterfaceInfo{
		"eth0": {ID: "eth0", Type: netscan.TypeEthernet},
		"br0":  {ID: "br0", Type: netscan.TypeBridge, Description: "bridge with members eth1"},
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  Format
		wantErr bool
	}{
		{FormatTable, false},
		{FormatYAML, false},
		{FormatJSON, false},
		{Format("xml"), true},
	}

	for _, tt := range tests {
		_, err := NewFormatter(Options{Format: tt.format})
		if (err != nil) != tt.wantErr {
			t.Errorf("NewFormatter(%q) error = %v", tt.format, err)
		}
	}
}

func TestValidateFormat(t *testing.T) {
	for _, ok := range []string{"table", "yaml", "json"} {
		if err := ValidateFormat(ok); err != nil {
			t.Errorf("ValidateFormat(%q) = %v", ok, err)
		}
	}
	if err := ValidateFormat("csv"); err == nil {
		t.Error("expected error for csv")
	}
}

func TestTableFormatter_VMList(t *testing.T) {
	f := &TableFormatter{}

	out, err := f.FormatVMList([]*v1alpha1.VirtualMachine{sampleVM("primary")})
	if err != nil {
		t.Fatalf("FormatVMList failed: %v", err)
	}

	if !strings.Contains(out, "NAME") || !strings.Contains(out, "DRIVER") {
		t.Errorf("missing headers: %s", out)
	}
	for _, want := range []string{"primary", "running", "libvirt", "10.77.77.5", "2048 MiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in: %s", want, out)
		}
	}
}

func TestTableFormatter_NoHeaders(t *testing.T) {
	f := &TableFormatter{NoHeaders: true}

	out, err := f.FormatVMList([]*v1alpha1.VirtualMachine{sampleVM("primary")})
	if err != nil {
		t.Fatalf("FormatVMList failed: %v", err)
	}
	if strings.Contains(out, "NAME") {
		t.Errorf("headers present: %s", out)
	}
}

func TestTableFormatter_Empty(t *testing.T) {
	f := &TableFormatter{}

	out, err := f.FormatVMList(nil)
	if err != nil {
		t.Fatalf("FormatVMList failed: %v", err)
	}
	if !strings.Contains(out, "No instances") {
		t.Errorf("unexpected empty output: %s", out)
	}
}

func TestTableFormatter_NetworkList(t *testing.T) {
	f := &TableFormatter{}

	out, err := f.FormatNetworkList(sampleNetworks())
	if err != nil {
		t.Fatalf("FormatNetworkList failed: %v", err)
	}

	// Sorted by name: br0 before eth0.
	if strings.Index(out, "br0") > strings.Index(out, "eth0") {
		t.Errorf("networks not sorted: %s", out)
	}
	if !strings.Contains(out, "bridge with members eth1") {
		t.Errorf("missing description: %s", out)
	}
}

func TestJSONFormatter_VM(t *testing.T) {
	f := &JSONFormatter{}

	out, err := f.FormatVM(sampleVM("primary"))
	if err != nil {
		t.Fatalf("FormatVM failed: %v", err)
	}

	var decoded v1alpha1.VirtualMachine
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Name != "primary" || decoded.APIVersion != "crucible.cofront.xyz/v1alpha1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestJSONFormatter_EmptyList(t *testing.T) {
	f := &JSONFormatter{}

	out, err := f.FormatVMList(nil)
	if err != nil {
		t.Fatalf("FormatVMList failed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("empty list = %q", out)
	}
}

func TestJSONFormatter_ListAsItems(t *testing.T) {
	f := &JSONFormatter{}

	out, err := f.FormatVMListAsItems([]*v1alpha1.VirtualMachine{sampleVM("primary")})
	if err != nil {
		t.Fatalf("FormatVMListAsItems failed: %v", err)
	}

	var wrapper struct {
		APIVersion string                    `json:"apiVersion"`
		Kind       string                    `json:"kind"`
		Items      []v1alpha1.VirtualMachine `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &wrapper); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if wrapper.Kind != "VirtualMachineList" || len(wrapper.Items) != 1 {
		t.Errorf("wrapper = %+v", wrapper)
	}
}

func TestJSONFormatter_NetworkList(t *testing.T) {
	f := &JSONFormatter{}

	out, err := f.FormatNetworkList(sampleNetworks())
	if err != nil {
		t.Fatalf("FormatNetworkList failed: %v", err)
	}

	var views []networkView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(views) != 2 || views[0].ID != "br0" {
		t.Errorf("views = %+v", views)
	}
}

func TestYAMLFormatter_VM(t *testing.T) {
	f := &YAMLFormatter{}

	out, err := f.FormatVM(sampleVM("primary"))
	if err != nil {
		t.Fatalf("FormatVM failed: %v", err)
	}

	var decoded v1alpha1.VirtualMachine
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if decoded.Name != "primary" {
		t.Errorf("decoded name = %q", decoded.Name)
	}
}

func TestYAMLFormatter_ListStream(t *testing.T) {
	f := &YAMLFormatter{}

	out, err := f.FormatVMList([]*v1alpha1.VirtualMachine{sampleVM("a"), sampleVM("b")})
	if err != nil {
		t.Fatalf("FormatVMList failed: %v", err)
	}
	if strings.Count(out, "---") != 1 {
		t.Errorf("expected one document separator: %s", out)
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{48 * time.Hour, "2d"},
		{14 * 24 * time.Hour, "2w"},
		{400 * 24 * time.Hour, "1y"},
		{-time.Second, "unknown"},
	}

	for _, tt := range tests {
		if got := formatAge(tt.d); got != tt.want {
			t.Errorf("formatAge(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
