// Package swaperr holds the error taxonomy shared by the approval, relay and
// swap packages, and maps raw relay/contract messages onto it.
package swaperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a user-facing failure category
type Kind string

const (
	KindAccountNotReady       Kind = "AccountNotReady"
	KindSameToken             Kind = "SameTokenError"
	KindInvalidInput          Kind = "InvalidInput"
	KindInsufficientBalance   Kind = "InsufficientBalance"
	KindInsufficientAllowance Kind = "InsufficientAllowance"
	KindApprovalFailed        Kind = "ApprovalFailed"
	KindExcessiveSlippage     Kind = "ExcessiveSlippage"
	KindPoolUninitialized     Kind = "PoolUninitialized"
	KindUserCancelled         Kind = "UserCancelled"
	KindConfirmationTimeout   Kind = "ConfirmationTimeout"
	KindRelayFailure          Kind = "RelayFailure"
)

var messages = map[Kind]string{
	KindAccountNotReady:       "Smart account is not ready yet, please reconnect your wallet",
	KindSameToken:             "Input and output tokens must be different",
	KindInvalidInput:          "Invalid swap parameters",
	KindInsufficientBalance:   "Insufficient balance for this swap",
	KindInsufficientAllowance: "Token allowance too low, approve the token and try again",
	KindApprovalFailed:        "Token approval was not confirmed, please try again",
	KindExcessiveSlippage:     "Price moved too much, try increasing slippage tolerance",
	KindPoolUninitialized:     "No liquidity pool exists for this pair yet",
	KindUserCancelled:         "Transaction was cancelled",
	KindConfirmationTimeout:   "Confirmation is taking longer than expected, check the explorer for the operation",
}

// Error is a classified failure. Raw keeps the underlying message for
// diagnostics.
type Error struct {
	Kind Kind
	Raw  string
	Err  error
}

func (e *Error) Error() string {
	if e.Raw == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Raw)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the short human readable text for the error
func (e *Error) Message() string {
	if msg, ok := messages[e.Kind]; ok {
		return msg
	}
	if e.Raw != "" {
		return e.Raw
	}
	return "Transaction failed"
}

// New builds a classified error of the given kind wrapping err
func New(kind Kind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	if err != nil {
		e.Raw = err.Error()
	}
	return e
}

// Newf builds a classified error from a format string
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

// KindOf returns the kind of a classified error anywhere in err's chain, or
// RelayFailure when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRelayFailure
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// UserMessage returns the human readable message for any error
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}

// pattern order matters: the first match wins
var patterns = []struct {
	kind   Kind
	needle []string
}{
	{KindUserCancelled, []string{"user rejected", "user denied", "user cancelled", "user canceled", "rejected the request", "context canceled"}},
	{KindInsufficientAllowance, []string{"insufficient allowance", "exceeds allowance", "allowance"}},
	{KindInsufficientBalance, []string{"insufficient funds", "insufficient balance", "exceeds balance", "transfer amount exceeds", "aa21 didn't pay prefund"}},
	{KindExcessiveSlippage, []string{"slippage", "too little received", "too much requested", "pricelimit", "price limit"}},
	{KindPoolUninitialized, []string{"poolnotinitialized", "pool not initialized", "not initialized"}},
}

// Classify maps err onto the taxonomy. Errors that are already classified are
// returned unchanged; unmatched errors become RelayFailure with the raw
// message kept.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, n := range p.needle {
			if strings.Contains(msg, n) {
				return New(p.kind, err)
			}
		}
	}
	return New(KindRelayFailure, err)
}
