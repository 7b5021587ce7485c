package retry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/dshills/reposync/pkg/types"
)

type classified struct {
	err       error
	retryable bool
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient marks err as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: true}
}

// Permanent marks err as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: false}
}

// IsPermanent reports whether err was explicitly marked permanent or is a cancellation
func IsPermanent(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var c *classified
	if errors.As(err, &c) {
		return !c.retryable
	}
	return false
}

// IsRetryable reports whether err is a transient, network-class failure.
//
// Explicit Transient/Permanent marks win. Fetch errors carry their own
// classification. Otherwise timeouts, refused or reset connections, TLS
// handshake problems, and unexpected EOFs are retryable; everything else,
// including context cancellation, is not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var c *classified
	if errors.As(err, &c) {
		return c.retryable
	}

	var fe *types.FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return false
	}
	if strings.Contains(err.Error(), "tls: handshake") || strings.Contains(err.Error(), "handshake timeout") {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF)
}
