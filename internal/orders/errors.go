package orders

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when an order does not exist or was deleted
	ErrNotFound = errors.New("order not found")

	// ErrActionInFlight is returned when a sync or delete is already outstanding for the order
	ErrActionInFlight = errors.New("order action already in flight")

	// ErrStaleOrder is returned when an update lost the race with another writer of the same order
	ErrStaleOrder = errors.New("order was modified concurrently")

	// ErrInvalidTransition is returned when a lifecycle event is not legal in the current status
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrNoBrokerOrder is returned when syncing an order that never reached the brokerage
	ErrNoBrokerOrder = errors.New("order was created but has no matching brokerage buy order")
)

// StatusError is an error that carries an HTTP-equivalent status code
type StatusError interface {
	error
	StatusCode() int
}

// InternalError marks a collaborator-side failure
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// StatusCode implements StatusError
func (e *InternalError) StatusCode() int {
	return http.StatusInternalServerError
}

// internal wraps err unless it is nil or already a not-found
func internal(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// StatusOf extracts the status code carried by err; 0 when none
func StatusOf(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	var se StatusError
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	return 0
}
