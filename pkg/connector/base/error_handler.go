package base

import (
	"context"
	stderrors "errors"
	"net"
	"strings"

	"github.com/ajitpratap0/datastream/pkg/errors"
)

var nonRetryablePatterns = []string{
	"invalid credentials",
	"unauthorized",
	"forbidden",
	"access denied",
	"permission denied",
	"not found",
	"no such bucket",
	"bad request",
	"invalid configuration",
	"unsupported",
	"schema mismatch",
}

var retryablePatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"broken pipe",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"throttl",
	"deadlock",
	"network",
	"i/o error",
	"eof",
}

// Classify gives a destination error a type the retry loop can act on.
// Errors that already carry a type are returned unchanged.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}

	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, message)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrorTypeDelivery, message)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.Wrap(err, errors.ErrorTypeTimeout, message)
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, message)
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(errStr, pattern) {
			return errors.Wrap(err, errors.ErrorTypeRejected, message)
		}
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return errors.Wrap(err, errors.ErrorTypeConnection, message)
		}
	}

	return errors.Wrap(err, errors.ErrorTypeDelivery, message)
}

// ClassifyConnect types an error raised while opening a session. Anything
// not already typed becomes a connection error.
func ClassifyConnect(err error, message string) error {
	if err == nil {
		return nil
	}
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, message)
}
