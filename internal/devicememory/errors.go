package devicememory

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCategory classifies device communication failures so the
// dispatcher can log them uniformly without inspecting transport details.
type ErrorCategory string

const (
	CategoryConnectionLost   ErrorCategory = "connection-lost"
	CategoryNoDeviceSelected ErrorCategory = "no-device-selected"
	CategoryTimeout          ErrorCategory = "timeout"
	CategoryOther            ErrorCategory = "other"
)

// DeviceError wraps a transport failure with its category and operation.
type DeviceError struct {
	Category ErrorCategory
	Op       string
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s failed (%s): %v", e.Op, e.Category, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ErrNoDeviceSelected is reported by the bridge when no emulator core is
// attached.
var ErrNoDeviceSelected = errors.New("no device selected")

func categorize(op string, err error) *DeviceError {
	cat := CategoryOther
	switch {
	case errors.Is(err, ErrNoDeviceSelected):
		cat = CategoryNoDeviceSelected
	case errors.Is(err, context.DeadlineExceeded):
		cat = CategoryTimeout
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			cat = CategoryTimeout
		} else if isConnectionError(err) {
			cat = CategoryConnectionLost
		}
	}
	return &DeviceError{Category: cat, Op: op, Err: err}
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
