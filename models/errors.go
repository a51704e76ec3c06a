package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies business failures so the HTTP layer and the
// scheduler can react without string matching.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindUnknownActor
	KindNotFound
	KindInvalidTransition
	KindAlreadyClaimed
	KindConflict
	KindForbidden
	KindDuplicateSubmission
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindUnknownActor:
		return "unknown_actor"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindAlreadyClaimed:
		return "already_claimed"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindDuplicateSubmission:
		return "duplicate_submission"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// BusinessError is the typed failure every engine operation returns.
type BusinessError struct {
	Kind    ErrorKind
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewBusinessError(kind ErrorKind, format string, args ...interface{}) *BusinessError {
	return &BusinessError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, or (0, false) for unclassified errors.
func KindOf(err error) (ErrorKind, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given business kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
