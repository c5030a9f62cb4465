// Package domain defines the core types and state machine for the ride report pipeline.
package domain

import (
	"fmt"
	"time"
)

// EventStatus is the lifecycle state of a queue event.
type EventStatus string

const (
	StatusQueued     EventStatus = "queued"
	StatusProcessing EventStatus = "processing"
	StatusDone       EventStatus = "done"
	StatusFailed     EventStatus = "failed"
)

// validTransitions encodes the full state machine. done and failed are absorbing.
var validTransitions = map[EventStatus][]EventStatus{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusDone, StatusQueued, StatusFailed},
}

// Terminal reports whether no further transitions are allowed from s.
func (s EventStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal state change.
func (s EventStatus) CanTransition(next EventStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AspectType is the change type carried by a webhook delivery.
type AspectType string

const (
	AspectCreate AspectType = "create"
	AspectUpdate AspectType = "update"
	AspectDelete AspectType = "delete"
)

// ParseAspectType validates the aspect_type field of a delivery.
func ParseAspectType(value string) (AspectType, error) {
	switch AspectType(value) {
	case AspectCreate, AspectUpdate, AspectDelete:
		return AspectType(value), nil
	default:
		return "", fmt.Errorf("unknown aspect_type %q", value)
	}
}

// QueueEvent is one unit of work: a notification that an upstream object changed.
// Rows are never deleted; terminal rows remain as an audit trail.
type QueueEvent struct {
	ID            int64
	AthleteID     int64
	ObjectID      int64
	ObjectType    string
	AspectType    AspectType
	Status        EventStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition mutates the event status, rejecting illegal moves. A rejected
// transition indicates a programming error in the caller, not bad input.
func (e *QueueEvent) Transition(next EventStatus) error {
	if !e.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s (event %d)", e.Status, next, e.ID)
	}
	e.Status = next
	return nil
}

// RideSportTypes are the upstream sport types that produce ride reports.
// Anything else is ingested but skipped by backfill and analysis.
var RideSportTypes = map[string]bool{
	"Ride":        true,
	"VirtualRide": true,
	"EBikeRide":   true,
}
