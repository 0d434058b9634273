// Package transformer maps inbound payloads to outbound payloads.
package transformer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMessage is matched by every rejection a transformer returns
var ErrInvalidMessage = errors.New("invalid message")

// Transformer converts an inbound payload into the payload published downstream.
// Implementations must be safe for concurrent use.
type Transformer interface {
	Name() string
	IsValidMessage(payload string) bool
	Transform(payload string) (string, error)
}

// ValidationError is a business rejection. Error returns the reason unchanged so
// it can be stored as the event's error message.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
func (e *ValidationError) Unwrap() error { return ErrInvalidMessage }

func reject(reason string) error {
	return &ValidationError{Reason: reason}
}

// New returns the transformer registered under name
func New(name string) (Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PassthroughName:
		return Passthrough{}, nil
	case PaymentName:
		return NewPayment(), nil
	case InventoryName:
		return NewInventory(), nil
	default:
		return nil, fmt.Errorf("unknown transformer %q", name)
	}
}

func isNotBlank(payload string) bool {
	return strings.TrimSpace(payload) != ""
}
