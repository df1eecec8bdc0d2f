package domain

import "time"

// EventType defines the type of event that occurred.
type EventType string

const (
	EventRolloutStarted    EventType = "rollout.started"
	EventRolloutSucceeded  EventType = "rollout.succeeded"
	EventRolloutFailed     EventType = "rollout.failed"
	EventRolloutRolledBack EventType = "rollout.rolled_back"
	EventRouteSynced       EventType = "route.synced"
	EventVolumeCreated     EventType = "volume.created"
)

// Event is the externally visible audit record of a rollout transition.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Service   string
	Data      any
}

// RolloutEventPayload carries the details of a rollout outcome. Reason is
// only set for failures and rollbacks.
type RolloutEventPayload struct {
	Service     string
	Version     int64
	Image       string
	ImageDigest string
	Status      DeploymentStatus
	Reason      string
}

// RouteSyncPayload describes a routing table change.
type RouteSyncPayload struct {
	Added   []string
	Removed []string
	Pending []string // hosts waiting on certificate binding
}

// VolumeEventPayload describes a volume lifecycle action.
type VolumeEventPayload struct {
	Service string
	Volume  string
	Mount   string
}
