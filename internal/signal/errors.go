package signal

import (
	"errors"
	"fmt"
	"strings"
)

// CodedError carries a stable, testable error token such as
// "REPLAY:NONCE_REUSE" plus an optional human detail. The code prefix
// (SCHEMA, AUTH, REPLAY, HOLD, INTEGRITY, ERROR) is part of the wire
// contract — callers match on it, so codes never change shape.
type CodedError struct {
	Code   string // e.g. "SCHEMA:INVALID_WEIGHT"
	Detail string // e.g. "weight=101"
}

func (e *CodedError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + " " + e.Detail
}

// Errf builds a CodedError with a formatted detail string.
func Errf(code, format string, args ...interface{}) *CodedError {
	return &CodedError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Err builds a CodedError with no detail.
func Err(code string) *CodedError {
	return &CodedError{Code: code}
}

// CodeOf extracts the stable code from err, or "ERROR:UNEXPECTED" for
// anything that is not a CodedError.
func CodeOf(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return "ERROR:UNEXPECTED"
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// HasPrefix reports whether err's code falls in the given category,
// e.g. HasPrefix(err, "REPLAY").
func HasPrefix(err error, category string) bool {
	return strings.HasPrefix(CodeOf(err), category+":")
}

// Stable error codes. Grouped by taxonomy category.
const (
	// SCHEMA — malformed or out-of-range input.
	CodeSchemaMissingSection = "SCHEMA:MISSING_SECTION"
	CodeSchemaBadVersion     = "SCHEMA:PROTOCOL_VERSION"
	CodeSchemaInvalidShelf   = "SCHEMA:INVALID_SHELF"
	CodeSchemaUnknownEvent   = "SCHEMA:UNKNOWN_EVENT"
	CodeSchemaUnknownCode    = "SCHEMA:UNKNOWN_CODE"
	CodeSchemaInvalidWeight  = "SCHEMA:INVALID_WEIGHT"
	CodeSchemaMalformed      = "SCHEMA:MALFORMED"

	// AUTH — key, signature, or token failures.
	CodeAuthUnknownKey       = "AUTH:UNKNOWN_KEY"
	CodeAuthHMACInvalid      = "AUTH:HMAC_INVALID"
	CodeAuthSignatureInvalid = "AUTH:SIGNATURE_INVALID"
	CodeAuthTokenExpired     = "AUTH:TOKEN_EXPIRED"
	CodeAuthMalformedToken   = "AUTH:MALFORMED_TOKEN"

	// REPLAY — anti-replay rejections.
	CodeReplayTSDrift       = "REPLAY:TS_DRIFT"
	CodeReplayNonceReuse    = "REPLAY:NONCE_REUSE"
	CodeReplaySeqRegression = "REPLAY:SEQ_REGRESSION"

	// HOLD — governance hold advisories.
	CodeHoldUnauthorized        = "HOLD:UNAUTHORIZED"
	CodeHoldDurationExceeded    = "HOLD:DURATION_EXCEEDED"
	CodeHoldReleaseUnauthorized = "HOLD:RELEASE_UNAUTHORIZED"
	CodeHoldNoActiveHolds       = "HOLD:NO_ACTIVE_HOLDS"
	CodeHoldAlreadyReleased     = "HOLD:ALREADY_RELEASED"

	// INTEGRITY — verification mismatches. Surfaced verbatim.
	CodeIntegrityHashMismatch = "INTEGRITY:STRUCTURAL_HASH_MISMATCH"
	CodeIntegrityChainBreak   = "INTEGRITY:CHAIN_BREAK"

	// CONFIG / SIGNATURE — emitter-side failures.
	CodeConfig    = "CONFIG:INVALID"
	CodeSignature = "SIGNATURE:FAILED"
)
