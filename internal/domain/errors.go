package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidQuery marks queries rejected before touching cache or store:
// bad ranges, spans over the configured limit, no valid requested columns.
var ErrInvalidQuery = errors.New("invalid query")

// ErrUnknownStation is returned for range queries naming a station the
// metadata table does not contain.
var ErrUnknownStation = errors.New("unknown station")

// TransientFetchError is a network failure or non-2xx response from a feed.
// The candidate is skipped, the watermark stays untouched and the fetch is
// retried on the next cycle.
type TransientFetchError struct {
	Feed       string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch %s: status %d", e.Feed, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s fetch %s: %v", e.Feed, e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// MalformedPayloadError is an unparseable archive or export. The candidate is
// skipped and not retried until the remote payload changes, which the next
// discovery naturally picks up.
type MalformedPayloadError struct {
	Feed      string
	Candidate string
	Err       error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("%s payload %s: %v", e.Feed, e.Candidate, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// IsTransient reports whether err should leave the watermark untouched and
// be retried whole on the next sync cycle.
func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}
