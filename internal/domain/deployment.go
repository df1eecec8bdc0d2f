package domain

import (
	"fmt"
	"time"
)

// DeploymentStatus is the lifecycle state of a deployment. Transitions are
// restricted to the table below; anything else is a programming error and is
// rejected so a half-applied rollout can never masquerade as healthy.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentRollingOut DeploymentStatus = "rolling_out"
	DeploymentHealthy    DeploymentStatus = "healthy"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

var deploymentTransitions = map[DeploymentStatus][]DeploymentStatus{
	DeploymentPending:    {DeploymentRollingOut, DeploymentFailed},
	DeploymentRollingOut: {DeploymentHealthy, DeploymentFailed, DeploymentRolledBack},
	DeploymentHealthy:    {},
	DeploymentFailed:     {},
	DeploymentRolledBack: {},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s DeploymentStatus) CanTransition(next DeploymentStatus) bool {
	for _, allowed := range deploymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status can never change again.
func (s DeploymentStatus) Terminal() bool {
	return len(deploymentTransitions[s]) == 0
}

// InFlight reports whether a deployment in this status still holds the
// per-service rollout slot.
func (s DeploymentStatus) InFlight() bool {
	return s == DeploymentPending || s == DeploymentRollingOut
}

// Deployment records one attempt to bring a service to a descriptor version.
// The image digest pins the exact content that was rolled out; rollback
// re-applies the digest of the last healthy deployment, never a tag.
type Deployment struct {
	Service     string
	Version     int64
	Descriptor  ServiceDescriptor
	ImageDigest string
	ContainerID string
	Status      DeploymentStatus
	Reason      string // failure reason for failed / rolled back deployments
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InFlight reports whether the deployment still holds its service's rollout
// slot.
func (d *Deployment) InFlight() bool {
	return d.Status.InFlight()
}

// Transition moves the deployment to the next status, enforcing the state
// machine.
func (d *Deployment) Transition(next DeploymentStatus) error {
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (service %s, version %d)",
			ErrInvalidTransition, d.Status, next, d.Service, d.Version)
	}
	d.Status = next
	d.UpdatedAt = time.Now()
	return nil
}

// Fail marks the deployment failed with a reason, tolerating the pending
// state for rollouts that never started reconciling.
func (d *Deployment) Fail(reason string) error {
	if err := d.Transition(DeploymentFailed); err != nil {
		return err
	}
	d.Reason = reason
	return nil
}

// RollBack marks the deployment rolled back with the reason that forced it.
func (d *Deployment) RollBack(reason string) error {
	if err := d.Transition(DeploymentRolledBack); err != nil {
		return err
	}
	d.Reason = reason
	return nil
}

// Clone returns a deep copy of the deployment.
func (d *Deployment) Clone() *Deployment {
	out := *d
	out.Descriptor = d.Descriptor.Clone()
	return &out
}
