package tally

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedResponse is returned when a 2xx body carries none of the
	// expected tags.
	ErrMalformedResponse = errors.New("tally: malformed response")
	// ErrAuthRevoked is returned for 403 responses.
	ErrAuthRevoked = errors.New("tally: access denied")
	// ErrTimeout is returned when the request deadline expires.
	ErrTimeout = errors.New("tally: request timed out")
	// ErrVoucherNotFound is returned when a detail query has no voucher.
	ErrVoucherNotFound = errors.New("tally: voucher not found")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tally: unexpected status %d", e.StatusCode)
}

// Is lets errors.Is(err, ErrAuthRevoked) match 403 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrAuthRevoked && e.StatusCode == 403
}

// QueryError carries the LINEERROR messages of an export Tally refused,
// such as an unknown report.
type QueryError struct {
	Messages []string
}

func (e *QueryError) Error() string {
	return "tally: query failed: " + strings.Join(e.Messages, "; ")
}
