package main

import (
	"fmt"
	"strings"
)

// The error types below form the boundary contract of the signing core.
// Policy, approval and key failures are always surfaced as one of these
// so callers can distinguish a verdict from an infrastructure fault.

// ValidationError indicates a malformed intent or configuration. It is
// always raised before any side effect.
type ValidationError struct {
	msg string
}

func ValidationErrorf(format string, args ...any) ValidationError {
	return ValidationError{msg: fmt.Sprintf(format, args...)}
}

func (e ValidationError) Error() string {
	return "validation: " + e.msg
}

// PolicyDeniedError carries every reason that contributed to a deny
// verdict. It is always written to the audit ledger before being returned.
type PolicyDeniedError struct {
	Reasons []string
}

func (e PolicyDeniedError) Error() string {
	return "policy denied: " + strings.Join(e.Reasons, "; ")
}

// ApprovalRequiredError indicates a require_approval verdict reached the
// signer without an approval token.
type ApprovalRequiredError struct {
	msg string
}

func ApprovalRequiredErrorf(format string, args ...any) ApprovalRequiredError {
	return ApprovalRequiredError{msg: fmt.Sprintf(format, args...)}
}

func (e ApprovalRequiredError) Error() string {
	return "approval required: " + e.msg
}

// ApprovalInvalidError indicates a present but unusable approval token:
// expired, already consumed, or bound to a different intent or tx hash.
type ApprovalInvalidError struct {
	msg string
}

func ApprovalInvalidErrorf(format string, args ...any) ApprovalInvalidError {
	return ApprovalInvalidError{msg: fmt.Sprintf(format, args...)}
}

func (e ApprovalInvalidError) Error() string {
	return "approval invalid: " + e.msg
}

// KeyUnavailableError indicates the wallet key is locked or unknown.
// The signer never prompts for an unlock implicitly.
type KeyUnavailableError struct {
	Wallet string
	msg    string
}

func KeyUnavailableErrorf(wallet, format string, args ...any) KeyUnavailableError {
	return KeyUnavailableError{Wallet: wallet, msg: fmt.Sprintf(format, args...)}
}

func (e KeyUnavailableError) Error() string {
	return fmt.Sprintf("key unavailable for %s: %s", e.Wallet, e.msg)
}

// BuildError indicates an intent could not be turned into a transaction
// request: unsupported action, unknown router, or both the aggregator and
// the fallback path failing.
type BuildError struct {
	msg string
}

func BuildErrorf(format string, args ...any) BuildError {
	return BuildError{msg: fmt.Sprintf(format, args...)}
}

func (e BuildError) Error() string {
	return "build: " + e.msg
}

// UpstreamError wraps an RPC or aggregator transport failure. It is never
// converted into a policy outcome; retrying is the caller's decision.
type UpstreamError struct {
	err error
}

func NewUpstreamError(err error) UpstreamError {
	return UpstreamError{err: err}
}

func (e UpstreamError) Error() string {
	return "upstream: " + e.err.Error()
}

func (e UpstreamError) Unwrap() error {
	return e.err
}
