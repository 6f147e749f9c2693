package leads

import "errors"

var (
	// ErrInvalidRequest is returned for a nil request.
	ErrInvalidRequest = errors.New("leads: request is required")

	// ErrInvalidName is returned when the name is missing
	ErrInvalidName = errors.New("leads: name is required")

	// ErrMissingContact is returned when both phone and service are missing
	ErrMissingContact = errors.New("leads: either phone or service is required")

	// ErrInvalidStatus is returned for a status outside cold/warm/hot.
	ErrInvalidStatus = errors.New("leads: invalid status")

	ErrInvalidChannel = errors.New("leads: invalid channel")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")
)
