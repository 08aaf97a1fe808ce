// Package errdefs defines the classified error values surfaced by the
// update engine. Every failure leaving a manager is wrapped into an *Error
// carrying a kind, a user-facing message, whether the condition is
// recoverable, and the concrete next steps for that kind.
package errdefs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

// Kind buckets an error by its underlying cause.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindDiskSpace   Kind = "disk_space"
	KindPermissions Kind = "permissions"
	KindCorruption  Kind = "corruption"
	KindSystem      Kind = "system"
)

// ManualRecoveryPointer is surfaced with every non-recoverable error.
const ManualRecoveryPointer = "See the manual recovery guide: restore the latest folder under backups/ by hand, or reinstall the application."

// Error is a classified engine error.
type Error struct {
	Kind        Kind     `json:"kind"`
	Message     string   `json:"message"`
	Recoverable bool     `json:"recoverable"`
	Steps       []string `json:"steps,omitempty"`
	Cause       error    `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatusError reports a non-success response from a server. The
// transport worked, but a refusing or broken remote end is still a network
// condition as far as the user is concerned.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
}

// HTTPStatus returns the response status code.
func (e *HTTPStatusError) HTTPStatus() int { return e.StatusCode }

// New builds a classified error with the default steps for its kind.
func New(kind Kind, message string, cause error) *Error {
	e := &Error{
		Kind:        kind,
		Message:     message,
		Recoverable: kind != KindCorruption,
		Cause:       cause,
		Steps:       defaultSteps(kind),
	}
	return e
}

// NonRecoverable marks the error as requiring manual intervention and
// appends the manual-recovery pointer to its steps.
func (e *Error) NonRecoverable() *Error {
	e.Recoverable = false
	e.Steps = append(e.Steps, ManualRecoveryPointer)
	return e
}

// Classify wraps err into an *Error, deriving the kind from the underlying
// error code. Already-classified errors pass through unchanged.
func Classify(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return New(kindOf(err), message, err)
}

// KindOf reports the kind err would classify as.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return kindOf(err)
}

// IsRecoverable reports whether err is a recoverable classified error.
// Unclassified errors are treated as recoverable system errors.
func IsRecoverable(err error) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Recoverable
	}
	return true
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return KindDiskSpace
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM), errors.Is(err, os.ErrPermission):
		return KindPermissions
	case isNetwork(err):
		return KindNetwork
	default:
		return KindSystem
	}
}

func isNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func defaultSteps(kind Kind) []string {
	switch kind {
	case KindNetwork:
		return []string{
			"Check your internet connection.",
			"Retry the update in a few minutes.",
			"If the problem persists, check whether a firewall or proxy blocks the update server.",
		}
	case KindDiskSpace:
		return []string{
			"Free up disk space on the drive holding the application.",
			"The update needs roughly three times the package size available.",
			"Retry the update once space is available.",
		}
	case KindPermissions:
		return []string{
			"Close other programs that may hold application files open.",
			"Run the updater with sufficient privileges for the install directory.",
		}
	case KindCorruption:
		return []string{
			"The downloaded package failed integrity verification repeatedly.",
			"Retry the update later; the server package may be in mid-publish.",
		}
	default:
		return []string{
			"Retry the update.",
			"Check the diagnostic log for details.",
		}
	}
}
