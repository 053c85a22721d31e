package ipc

import (
	"errors"
	"fmt"
)

// Sentinel errors for the channel's failure taxonomy. Callers classify
// with errors.Is.
var (
	// ErrPayloadTooLarge is returned before any hardware interaction when
	// a request payload exceeds the mailbox size.
	ErrPayloadTooLarge = errors.New("ipc: payload exceeds mailbox size")

	// ErrTimeout is returned when no reply arrived within the channel's
	// configured timeout. The request is not retried automatically.
	ErrTimeout = errors.New("ipc: request timed out")

	// ErrCanceled is returned for requests drained by Shutdown, and for
	// sends issued after Shutdown began. Distinct from ErrTimeout so
	// callers can tell "try again" from "channel is gone".
	ErrCanceled = errors.New("ipc: request canceled by shutdown")

	// ErrFirmware is the generic failure class for replies whose status
	// is not success. The concrete code is carried by StatusError.
	ErrFirmware = errors.New("ipc: firmware reported failure")
)

// StatusError is a firmware-reported failure. It unwraps to ErrFirmware;
// the precise code is preserved for diagnostics only.
type StatusError struct {
	Code Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ipc: firmware returned %s (%d)", e.Code, uint32(e.Code))
}

func (e *StatusError) Unwrap() error { return ErrFirmware }

// IsTransient reports whether err is a firmware status that may resolve
// on its own (busy or pending), making a caller-side retry reasonable.
func IsTransient(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == StatusBusy || se.Code == StatusPending
}
