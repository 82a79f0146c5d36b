package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"
)

// Class is the classifier's verdict on a failed operation.
type Class int

const (
	// Unknown errors are retried a bounded number of times and logged distinctly.
	Unknown Class = iota
	Transient
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// transientCodes are the vendor codes for throttling, concurrency limits, busy servers and
// quota blocks. Every other recognized vendor code is permanent.
var transientCodes = map[string]bool{
	"VS402335": true, // too many concurrent requests
	"VS402490": true, // request rate limit exceeded
	"VS402491": true, // resource usage quota blocked
	"TF400733": true, // request cancelled or timed out on the server
}

var vendorCodePattern = regexp.MustCompile(`\b(TF|VS)\d{5,6}\b`)

// coded is implemented by remote service errors that carry a vendor error code.
type coded interface {
	ErrorCode() string
}

// statused is implemented by remote service errors that carry an HTTP status.
type statused interface {
	HTTPStatus() int
}

type classified struct {
	err   error
	class Class
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// MarkPermanent forces err to classify as [Permanent].
func MarkPermanent(err error) error { return &classified{err: err, class: Permanent} }

// MarkTransient forces err to classify as [Transient].
func MarkTransient(err error) error { return &classified{err: err, class: Transient} }

// Classify decides whether a failed operation may be retried.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	var c *classified
	if errors.As(err, &c) {
		return c.class
	}

	if errors.Is(err, context.Canceled) {
		return Permanent
	}

	cause := innermost(err)
	if code := vendorCode(err, cause); code != "" {
		if transientCodes[code] {
			return Transient
		}
		return Permanent
	}

	var st statused
	if errors.As(err, &st) {
		switch s := st.HTTPStatus(); {
		case s == http.StatusTooManyRequests, s == http.StatusServiceUnavailable,
			s == http.StatusGatewayTimeout, s == http.StatusBadGateway:
			return Transient
		case s >= 400 && s < 500:
			return Permanent
		}
	}

	if isTransport(err) || isTransport(cause) {
		return Transient
	}
	return Unknown
}

// innermost unwraps to the deepest cause, following the first branch of joined errors.
func innermost(err error) error {
	for {
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 {
				return err
			}
			err = errs[0]
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err
			}
			err = next
		default:
			return err
		}
	}
}

func vendorCode(err, cause error) string {
	var c coded
	if errors.As(err, &c) && c.ErrorCode() != "" {
		return strings.ToUpper(c.ErrorCode())
	}
	return vendorCodePattern.FindString(cause.Error())
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
