package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/sony/gobreaker"
)

// ErrorKind buckets exchange failures by how callers must react.
// Only transient errors are retriable; everything else fails the call.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"  // network, timeout, venue internal error
	KindPermission ErrorKind = "permission" // bad key, signature, IP restriction
	KindSymbol     ErrorKind = "symbol"     // unknown or delisted symbol
	KindFilter     ErrorKind = "filter"     // lot size, notional, balance rejections
	KindRate       ErrorKind = "rate"       // request weight or order rate exceeded
)

// Error wraps a venue failure with its classification and the operation
// that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapErr classifies err and tags it with the operation name. nil passes
// through, and already-classified errors keep their original kind and op.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var exErr *Error
	if errors.As(err, &exErr) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// KindOf returns the classification of err, or empty string when err is nil.
// Unclassified errors are classified on the fly.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var exErr *Error
	if errors.As(err, &exErr) {
		return exErr.Kind
	}
	return Classify(err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// Classify maps a raw error to an ErrorKind. Binance API errors classify by
// code; for everything else only recognized connectivity failures count as
// transient. Unrecognized errors are permanent: blindly retrying an unknown
// failure against a live order book risks duplicate orders.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return classifyAPICode(apiErr.Code)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"):
		return KindRate
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporary failure"):
		return KindTransient
	}

	return KindFilter
}

func classifyAPICode(code int64) ErrorKind {
	switch code {
	case -1003, -1015: // TOO_MANY_REQUESTS, TOO_MANY_ORDERS
		return KindRate
	case 429, 418: // HTTP rate limit and IP ban surfaced as codes
		return KindRate
	case -1002, -1022, -2014, -2015: // unauthorized, bad signature, bad key, key permissions
		return KindPermission
	case -1121: // INVALID_SYMBOL
		return KindSymbol
	case -1001, -1016, -1021: // DISCONNECTED, SERVICE_SHUTTING_DOWN, INVALID_TIMESTAMP
		return KindTransient
	}
	// Everything else, notably the -11xx request format family and the
	// -20xx order reject family, is a permanent rejection of this request.
	return KindFilter
}
