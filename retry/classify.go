package retry

import (
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Classifier reports whether err is a transient fault worth retrying.
type Classifier func(err error) bool

// transientFragments are matched case-insensitively against the message of
// the root cause when no typed check recognises the error. Wrapping text is
// never inspected: it may carry caller input such as account ids.
var transientFragments = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"lock wait timeout",
	"deadlock",
	"too many connections",
	"database is locked",
	"database table is locked",
}

// DefaultClassifier recognises network faults, dropped database/sql
// connections and the usual lock-contention messages.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, root := range rootCauses(err) {
		msg := strings.ToLower(root.Error())
		for _, frag := range transientFragments {
			if strings.Contains(msg, frag) {
				return true
			}
		}
	}
	return false
}

// rootCauses returns the innermost errors of every branch of err's chain.
func rootCauses(err error) []error {
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		if next := u.Unwrap(); next != nil {
			return rootCauses(next)
		}
	case interface{ Unwrap() []error }:
		var roots []error
		for _, next := range u.Unwrap() {
			if next != nil {
				roots = append(roots, rootCauses(next)...)
			}
		}
		if len(roots) > 0 {
			return roots
		}
	}
	return []error{err}
}

// Any combines classifiers; an error is transient if any of them says so.
func Any(classifiers ...Classifier) Classifier {
	return func(err error) bool {
		for _, c := range classifiers {
			if c != nil && c(err) {
				return true
			}
		}
		return false
	}
}
