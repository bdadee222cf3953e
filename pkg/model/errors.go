package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an alert, threshold, or channel does not exist.
var ErrNotFound = errors.New("not found")

// ErrDispatchExhausted is returned when every channel tier failed to deliver.
var ErrDispatchExhausted = errors.New("dispatch exhausted: no channel delivered")

// ValidationError rejects malformed input at the engine boundary.
// Engine state is unchanged when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageError wraps a history store failure. It propagates to the caller of
// Ingest and Query because durability cannot be silently assumed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ChannelDeliveryError records a single failed delivery attempt on one channel.
// It is absorbed into the delivery report, never returned from Ingest.
type ChannelDeliveryError struct {
	Channel string
	Attempt int
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("channel %s attempt %d: %v", e.Channel, e.Attempt, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error { return e.Err }
