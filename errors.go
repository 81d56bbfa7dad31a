package querygrid

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the querygrid package. The pure result pipeline
// (Normalize, ParseTemporal, Classify, BuildMatrix) never returns errors;
// these belong to the surrounding transport, catalog, and export layers.
var (
	// ErrConnClosed is returned when operations are attempted on a closed
	// connection.
	ErrConnClosed = errors.New("connection is closed")

	// ErrEmptyQuery is returned when a query string is empty.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrQueryTooLong is returned when a query exceeds the configured
	// maximum length.
	ErrQueryTooLong = errors.New("query exceeds maximum length")

	// ErrQueryRejected is returned when the database rejects a query.
	ErrQueryRejected = errors.New("query rejected by database")

	// ErrCatalogClosed is returned when operations are attempted on a
	// closed catalog store.
	ErrCatalogClosed = errors.New("catalog is closed")

	// ErrNotTimeIndexed is returned when a remote-write publish is
	// attempted on a result whose X column does not resolve to absolute
	// instants.
	ErrNotTimeIndexed = errors.New("result is not time-indexed")

	// ErrNoSeries is returned when a publish or export selects no usable
	// numeric series.
	ErrNoSeries = errors.New("no numeric series selected")
)

// TransportErrorType categorizes transport failures.
type TransportErrorType int

const (
	// TransportErrorTypeUnknown is an unclassified transport error.
	TransportErrorTypeUnknown TransportErrorType = iota
	// TransportErrorTypeNetwork indicates the request never completed.
	TransportErrorTypeNetwork
	// TransportErrorTypeRejected indicates the database refused the query.
	TransportErrorTypeRejected
	// TransportErrorTypeDecode indicates an unreadable response body.
	TransportErrorTypeDecode
)

// TransportError provides detailed information about a failed exchange with
// the database.
type TransportError struct {
	Type       TransportErrorType
	Message    string
	URL        string
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s: %d]: %v", e.Message, e.URL, e.StatusCode, e.Cause)
		}
		return fmt.Sprintf("%s [%s: %d]", e.Message, e.URL, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %v", e.Message, e.URL, e.Cause)
	}
	return fmt.Sprintf("%s [%s]", e.Message, e.URL)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for TransportError.
func (e *TransportError) Is(target error) bool {
	if e.Type == TransportErrorTypeRejected {
		return target == ErrQueryRejected
	}
	return false
}

// newTransportError creates a new TransportError.
func newTransportError(errType TransportErrorType, message, url string, status int, cause error) *TransportError {
	return &TransportError{
		Type:       errType,
		Message:    message,
		URL:        url,
		StatusCode: status,
		Cause:      cause,
	}
}
