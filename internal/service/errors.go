package service

import "fmt"

// ValidationError reports malformed or missing input. Maps to HTTP 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError reports a missing transfer, shipment or ledger row. Maps to
// HTTP 404.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// IllegalTransitionError reports a state-machine violation. Maps to HTTP 400.
type IllegalTransitionError struct {
	Msg string
}

func (e *IllegalTransitionError) Error() string { return e.Msg }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...interface{}) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

func illegalTransitionf(format string, args ...interface{}) error {
	return &IllegalTransitionError{Msg: fmt.Sprintf(format, args...)}
}
