package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMemberNotFound = errors.New("member does not exist in this cluster")
	ErrNotRunning     = errors.New("member is not running")
)

// InvalidRequestError reports a request the cluster can never satisfy, such
// as selecting more members than exist. It is reported synchronously and
// never retried.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string {
	return e.Message
}

func NewInvalidRequestError(format string, args ...interface{}) *InvalidRequestError {
	return &InvalidRequestError{Message: fmt.Sprintf(format, args...)}
}

func IsInvalidRequest(err error) bool {
	var invalidErr *InvalidRequestError
	return errors.As(err, &invalidErr)
}

// TimeoutError reports a deadline that elapsed while waiting on cluster
// state. It always carries the deepest observed cause so callers can
// distinguish "the message truly never appeared" from other failures.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("timed out after %s: %s", e.Timeout, e.Op)
	}
	return fmt.Sprintf("timed out after %s: %s: %v", e.Timeout, e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func NewTimeoutError(op string, timeout time.Duration, err error) *TimeoutError {
	return &TimeoutError{Op: op, Timeout: timeout, Err: err}
}

func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// ContractViolationError reports a matched log line that lacked the required
// timestamp prefix. The subject system's log format changed incompatibly;
// the wait is aborted immediately rather than retried.
type ContractViolationError struct {
	Query string
	Line  string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf(
		"log queries must match output that includes a leading timestamp; this was not satisfied for %q, which matched: %q",
		e.Query, e.Line)
}

func IsContractViolation(err error) bool {
	var contractErr *ContractViolationError
	return errors.As(err, &contractErr)
}

// UnreachableError reports members whose endpoint failed the connectivity
// probe after their logs declared readiness.
type UnreachableError struct {
	Hosts []string
	Err   error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("endpoint does not respond to handshake after logging that it is available on %v", e.Hosts)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

func IsUnreachable(err error) bool {
	var unreachableErr *UnreachableError
	return errors.As(err, &unreachableErr)
}
