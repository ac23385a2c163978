package codec

import "errors"

// ErrInvalidOrderData is returned when an order or order item fails a
// structural or length check during decode. Callers reject the input; this
// is not logged as an escalation.
var ErrInvalidOrderData = errors.New("codec: invalid order data")

// ErrListTooLong is returned when a length-prefixed list exceeds the cap for
// its kind.
var ErrListTooLong = errors.New("codec: list exceeds maximum length")

// ErrShortRead is returned when a frame is truncated mid-field.
var ErrShortRead = errors.New("codec: short read")
