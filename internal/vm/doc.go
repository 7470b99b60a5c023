// Package vm defines the polymorphic contract every hypervisor backend
// implements: the VirtualMachine lifecycle interface, its state machine, the
// factory contract, and the status-monitor collaborator notified on every
// transition. Concrete backends live in subpackages (qemu, libvirt, lxd).
package vm
