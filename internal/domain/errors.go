package domain

import "fmt"

// RequestError is returned for any non-200 response from the Calltouch API.
type RequestError struct {
	StatusCode int
	URL        string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("Problem. Response code - %d", e.StatusCode)
}

// FormatError means a timestamp column held a value in an unexpected layout.
type FormatError struct {
	Column string
	Value  any
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("column %s: %v is not a timestamp", e.Column, e.Value)
	}
	return fmt.Sprintf("column %s: cannot parse %v: %v", e.Column, e.Value, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
