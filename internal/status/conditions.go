// Package status maintains VirtualMachine status fields: conditions, the
// coarse phase projected from the backend-reported state, and the recorder
// that persists state transitions as they happen.
package status

import (
	"time"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// Condition types used on VirtualMachine resources.
const (
	// ConditionReady means the instance is running and its guest answered
	// the SSH readiness probe.
	ConditionReady = "Ready"

	// ConditionProvisioned means the instance's on-host artifacts (disk,
	// seed image, domain definition) exist.
	ConditionProvisioned = "Provisioned"
)

// SetCondition adds or updates a condition in the VM status.
// If a condition with the same type already exists, it updates it.
// The LastTransitionTime is only updated if the status changes.
func SetCondition(vm *v1alpha1.VirtualMachine, condType string, status v1alpha1.ConditionStatus, reason, message string) {
	now := v1alpha1.Time{Time: time.Now()}

	for i := range vm.Status.Conditions {
		if vm.Status.Conditions[i].Type == condType {
			existing := &vm.Status.Conditions[i]
			if existing.Status != status {
				existing.LastTransitionTime = now
			}
			existing.Status = status
			existing.Reason = reason
			existing.Message = message
			return
		}
	}

	vm.Status.Conditions = append(vm.Status.Conditions, v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(vm *v1alpha1.VirtualMachine, condType string) *v1alpha1.Condition {
	for i := range vm.Status.Conditions {
		if vm.Status.Conditions[i].Type == condType {
			return &vm.Status.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(vm *v1alpha1.VirtualMachine, condType string) bool {
	cond := GetCondition(vm, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionTrue
}

// RemoveCondition removes a condition by type.
func RemoveCondition(vm *v1alpha1.VirtualMachine, condType string) {
	filtered := make([]v1alpha1.Condition, 0, len(vm.Status.Conditions))
	for i := range vm.Status.Conditions {
		if vm.Status.Conditions[i].Type != condType {
			filtered = append(filtered, vm.Status.Conditions[i])
		}
	}
	vm.Status.Conditions = filtered
}

// MarkProvisioned marks the provisioning condition as True.
func MarkProvisioned(vm *v1alpha1.VirtualMachine) {
	SetCondition(vm, ConditionProvisioned, v1alpha1.ConditionTrue, "Provisioned", "Instance artifacts created")
}

// MarkReady sets the Ready condition once the guest answers the probe.
func MarkReady(vm *v1alpha1.VirtualMachine) {
	SetCondition(vm, ConditionReady, v1alpha1.ConditionTrue, "GuestReady", "Instance is running and reachable over SSH")
}

// MarkNotReady sets the Ready condition to False with the given reason.
func MarkNotReady(vm *v1alpha1.VirtualMachine, reason, message string) {
	SetCondition(vm, ConditionReady, v1alpha1.ConditionFalse, reason, message)
}
