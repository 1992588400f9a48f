package owm

import "fmt"

// Op names the upstream call an error came from.
type Op string

const (
	OpCurrent        Op = "current"
	OpForecast       Op = "forecast"
	OpForwardGeocode Op = "geocode_direct"
	OpReverseGeocode Op = "geocode_reverse"
)

// NetworkError is a transport-level failure: DNS, connectivity, or a response
// that could not be decoded at all.
type NetworkError struct {
	Op  Op
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a well-formed response whose cod field is not the success code.
type APIError struct {
	Op      Op
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: weather API returned code %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: weather API returned code %s: %s", e.Op, e.Code, e.Message)
}

type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no location matches %q", e.Query)
}
