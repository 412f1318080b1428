package auction

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error. Callers branch on the kind, not the
// message.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalidAuctionState Kind = "invalid_auction_state"
	KindInvalidBid          Kind = "invalid_bid"
	KindInvalidOffer        Kind = "invalid_offer"
	KindForbidden           Kind = "forbidden"
	KindInvalidInput        Kind = "invalid_input"
	// KindConflict means the operation lost the per-auction write race on
	// every retry attempt and was aborted without partial effects.
	KindConflict Kind = "conflict"
)

// Error is a typed domain error with a stable kind and a human-readable
// message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a domain error of the given kind.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the domain error kind from err, or "" if err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
