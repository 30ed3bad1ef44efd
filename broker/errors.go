package broker

import (
	"errors"
	"fmt"
	"time"
)

// ErrRejected matches every RejectionError and TimeoutError with errors.Is,
// so callers can treat a timeout exactly like a rejection.
var ErrRejected = errors.New("broker rejected request")

// ErrNotFound is returned for unknown broker order ids.
var ErrNotFound = errors.New("broker order not found")

// RejectionError is a non-accepted deal status or a broker error payload.
type RejectionError struct {
	Op      string
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return fmt.Sprintf("%s rejected: %s (%s)", e.Op, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s rejected: %s", e.Op, e.Code)
	default:
		return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
	}
}

func (e *RejectionError) Is(target error) bool { return target == ErrRejected }

// TimeoutError reports a call that exceeded its budget.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrRejected }

func (e *TimeoutError) Timeout() bool { return true }

// Reason extracts a short human readable cause from err: the rejection code
// when there is one.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		if rej.Code != "" {
			return rej.Code
		}
		return rej.Message
	}
	var to *TimeoutError
	if errors.As(err, &to) {
		return "timeout"
	}
	return err.Error()
}
