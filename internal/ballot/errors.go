package ballot

import (
	"errors"
	"fmt"
)

// Code is the caller-visible error kind.
type Code string

const (
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeInconsistent           Code = "BALLOT_INFO_INCONSISTENT"
	CodeAlreadyVoted           Code = "ALREADY_VOTED"
	CodeTxNotFound             Code = "TX_NOT_FOUND"
	CodeMissingTx              Code = "MISSING_TX"
	CodeEligibilityUnavailable Code = "ELIGIBILITY_UNAVAILABLE"
	CodeInternal               Code = "INTERNAL"
)

// Error carries a Code plus optional detail and cause. Detail and Err are
// for server-side logs; callers only ever see Code.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidRequest         = &Error{Code: CodeInvalidRequest}
	ErrInconsistent           = &Error{Code: CodeInconsistent}
	ErrAlreadyVoted           = &Error{Code: CodeAlreadyVoted}
	ErrTxNotFound             = &Error{Code: CodeTxNotFound}
	ErrMissingTx              = &Error{Code: CodeMissingTx}
	ErrEligibilityUnavailable = &Error{Code: CodeEligibilityUnavailable}
)

func invalid(detail string) error { return &Error{Code: CodeInvalidRequest, Detail: detail} }

func internal(detail string, err error) error {
	return &Error{Code: CodeInternal, Detail: detail, Err: err}
}

// CodeOf returns the Code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeInternal
}
