package wire

import "errors"

// ErrTimeout is returned when a request's 10-second deadline elapses before
// a response arrives.
var ErrTimeout = errors.New("wire: request timed out")

// ErrReqIDMismatch is returned when a response's echoed reqId doesn't match
// the request that solicited it.
var ErrReqIDMismatch = errors.New("wire: response reqId mismatch")

// ErrUnexpectedOpcode is returned when a response frame carries an opcode
// other than the one expected for the request that was sent.
var ErrUnexpectedOpcode = errors.New("wire: unexpected response opcode")

// ErrMaxOrdersExceeded is returned by GetAllOrdersFromPeer when a peer's
// hash set for a collection would exceed the caller's local order limit.
var ErrMaxOrdersExceeded = errors.New("wire: peer order set exceeds local limit")
