// Package dexerr defines the closed error set surfaced by every program
// transition. Each error carries a stable numeric code that external callers
// match on at the program boundary; the code assignment never changes.
package dexerr

import "errors"

// Code is the numeric error code reported to callers.
type Code uint32

const (
	CodeInvalidInstructionData Code = iota
	CodeInvalidAccountData
	CodeAccountNotAuthorized
	CodeInsufficientFunds
	CodeOrderNotFound
	CodeInvalidOrderPrice
	CodeInvalidOrderSize
	CodeOrderBookFull
	CodeInvalidTokenAccount
	CodeArithmeticOverflow
)

// Error is a program error with a stable code.
type Error struct {
	code Code
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Code returns the stable numeric code.
func (e *Error) Code() Code { return e.code }

var (
	ErrInvalidInstructionData = &Error{CodeInvalidInstructionData, "invalid instruction data"}
	ErrInvalidAccountData     = &Error{CodeInvalidAccountData, "invalid account data"}
	ErrAccountNotAuthorized   = &Error{CodeAccountNotAuthorized, "account not authorized"}
	ErrInsufficientFunds      = &Error{CodeInsufficientFunds, "insufficient funds"}
	ErrOrderNotFound          = &Error{CodeOrderNotFound, "order not found"}
	ErrInvalidOrderPrice      = &Error{CodeInvalidOrderPrice, "invalid order price"}
	ErrInvalidOrderSize       = &Error{CodeInvalidOrderSize, "invalid order size"}
	ErrOrderBookFull          = &Error{CodeOrderBookFull, "order book full"}
	ErrInvalidTokenAccount    = &Error{CodeInvalidTokenAccount, "invalid token account"}
	ErrArithmeticOverflow     = &Error{CodeArithmeticOverflow, "arithmetic overflow"}
)

// CodeOf extracts the program error code from err, unwrapping as needed.
// The second return is false when err is not a program error.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.code, true
	}
	return 0, false
}
