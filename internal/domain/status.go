package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an Event
type Status string

const (
	StatusReceived Status = "RECEIVED"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRetrying Status = "RETRYING"
)

// Statuses lists every status in lifecycle order
var Statuses = []Status{StatusReceived, StatusSuccess, StatusFailed, StatusRetrying}

// transitions lists every legal status change; anything absent is rejected.
var transitions = map[Status][]Status{
	StatusReceived: {StatusSuccess, StatusFailed},
	StatusFailed:   {StatusRetrying},
}

// ParseStatus converts a case-insensitive name into a Status
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusSuccess, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether an event in state from may move to state to
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the states from which an event may move into to
func AllowedFrom(to Status) []Status {
	var from []Status
	for _, s := range Statuses {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}
