package tally

import (
	"fmt"
	"net/http"
	"strings"
)

// OutcomeKind discriminates Outcome.
type OutcomeKind int

const (
	// OutcomeCreated means Tally created the voucher.
	OutcomeCreated OutcomeKind = iota + 1
	// OutcomeAltered means Tally altered an existing voucher.
	OutcomeAltered
	// OutcomeRejected means Tally parsed the request and declined it.
	OutcomeRejected
	// OutcomeBlocked means the credit gate stopped the order before sending.
	OutcomeBlocked
	// OutcomeTransportError covers network failures, non-2xx statuses and
	// unparseable bodies.
	OutcomeTransportError
	// OutcomeTimeout means the deadline expired; Tally may still have
	// committed the voucher.
	OutcomeTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCreated:
		return "created"
	case OutcomeAltered:
		return "altered"
	case OutcomeRejected:
		return "rejected"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// TransportKind details an OutcomeTransportError.
type TransportKind string

const (
	TransportNetwork     TransportKind = "network"
	TransportHTTPStatus  TransportKind = "http_status"
	TransportAuthRevoked TransportKind = "auth_revoked"
	TransportMalformed   TransportKind = "malformed"
)

// ImportCounts are the counters of an import acknowledgement.
type ImportCounts struct {
	Created    int `json:"created"`
	Altered    int `json:"altered"`
	Errors     int `json:"errors"`
	Exceptions int `json:"exceptions"`
}

// Outcome is the result of one import attempt. Exactly one Kind applies.
// MasterID is Tally's internal id from LASTVCHID; VoucherNumber is the
// number the voucher was posted under, when known.
type Outcome struct {
	Kind          OutcomeKind   `json:"kind"`
	VoucherNumber string        `json:"voucher_number,omitempty"`
	MasterID      int64         `json:"master_id,omitempty"`
	Counts        ImportCounts  `json:"counts"`
	LineErrors    []string      `json:"line_errors,omitempty"`
	CreditReason  string        `json:"credit_reason,omitempty"`
	Transport     TransportKind `json:"transport,omitempty"`
	HTTPStatus    int           `json:"http_status,omitempty"`
	Err           error         `json:"-"`
}

// Created builds a created outcome.
func Created(voucherNumber string, counts ImportCounts) Outcome {
	return Outcome{Kind: OutcomeCreated, VoucherNumber: voucherNumber, Counts: counts}
}

// Rejected builds a business rejection.
func Rejected(counts ImportCounts, lineErrors []string) Outcome {
	return Outcome{Kind: OutcomeRejected, Counts: counts, LineErrors: lineErrors}
}

// Blocked builds a credit-gate block.
func Blocked(reason string) Outcome {
	return Outcome{Kind: OutcomeBlocked, CreditReason: reason}
}

// TransportFailure builds a transport error outcome.
func TransportFailure(kind TransportKind, status int, err error) Outcome {
	return Outcome{Kind: OutcomeTransportError, Transport: kind, HTTPStatus: status, Err: err}
}

// TimedOut builds a timeout outcome.
func TimedOut(err error) Outcome {
	return Outcome{Kind: OutcomeTimeout, Err: err}
}

// Succeeded reports whether Tally accepted the request.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeCreated || o.Kind == OutcomeAltered
}

// AuthRevoked reports a 403 from the Tally gateway.
func (o Outcome) AuthRevoked() bool {
	return o.Kind == OutcomeTransportError && o.Transport == TransportAuthRevoked
}

// MessageAccessDenied is shown for 403 responses.
const MessageAccessDenied = "Access denied. Try logging in again or switch company."

// Message renders the text shown to the user.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeCreated:
		switch {
		case o.VoucherNumber != "" && o.MasterID > 0:
			return fmt.Sprintf("Voucher %s created (ID %d).", o.VoucherNumber, o.MasterID)
		case o.VoucherNumber != "":
			return fmt.Sprintf("Voucher %s created.", o.VoucherNumber)
		case o.MasterID > 0:
			return fmt.Sprintf("Voucher created (ID %d).", o.MasterID)
		}
		return "Voucher created."
	case OutcomeAltered:
		return "Voucher updated."
	case OutcomeRejected:
		msg := o.Counts.String()
		if len(o.LineErrors) > 0 {
			msg += "\n" + strings.Join(o.LineErrors, "\n")
		}
		return msg
	case OutcomeBlocked:
		if o.CreditReason != "" {
			return "Order blocked: " + o.CreditReason
		}
		return "Order blocked by credit control."
	case OutcomeTimeout:
		return "Tally did not respond in time. Check the voucher list before submitting again."
	case OutcomeTransportError:
		switch o.Transport {
		case TransportAuthRevoked:
			return MessageAccessDenied
		case TransportMalformed:
			return "Tally returned an unreadable response."
		case TransportHTTPStatus:
			return fmt.Sprintf("Tally request failed with status %d %s.", o.HTTPStatus, http.StatusText(o.HTTPStatus))
		}
		return "Could not reach Tally. Check your connection and try again."
	}
	return "Something went wrong while talking to Tally."
}

func (c ImportCounts) String() string {
	return fmt.Sprintf("Created: %d, Errors: %d, Exceptions: %d", c.Created, c.Errors, c.Exceptions)
}
