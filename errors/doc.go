// Package errors provides the error taxonomy shared by the sensor proxy, its
// backends and its transports.
//
// # Overview
//
// Two layers live here. The first is the three-class classification used for
// handling decisions: Transient (temporary), Invalid (bad input or protocol
// misuse) and Fatal (unrecoverable). The second is the sensor result set that
// clients see: OK, BAD_VALUE, INVALID_OPERATION, PERMISSION_DENIED and
// NO_MEMORY. Sentinels such as ErrBadValue carry the result; ResultOf maps any
// error chain back to a Result for a transport.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: <cause>"
//
// For example:
//
//	return errors.WrapInvalid(errors.ErrBadValue, "Proxy", "Activate", "resolve handle")
//
// produces "Proxy.Activate: resolve handle failed: bad value" and still
// satisfies errors.Is(err, errors.ErrBadValue).
//
// # Backend Errors
//
// Errors returned by a backend for a pass-through call are returned to the
// client unchanged. Backends should return the sentinels from this package so
// that ResultOf can map them; anything else maps to ResultInvalidOperation.
package errors
