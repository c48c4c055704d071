// Package errors holds the sentinel errors shared by every layer.
// Each specific error wraps one of the four roots so callers can branch on
// the category with errors.Is and the gateway can pick a wire code.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConflict     = fmt.Errorf("conflict")
	ErrInternal     = fmt.Errorf("internal error")
)

var (
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	ErrChatNotFound = fmt.Errorf("chat %w", ErrNotFound)

	ErrEmptyMessage     = fmt.Errorf("%w: content and image are both empty", ErrInvalidInput)
	ErrSelfMessage      = fmt.Errorf("%w: sender and receiver are the same user", ErrInvalidInput)
	ErrMissingTarget    = fmt.Errorf("%w: chatId or receiverId is required", ErrInvalidInput)
	ErrNotMember        = fmt.Errorf("%w: user is not a member of this chat", ErrInvalidInput)
	ErrEmptyGroupName   = fmt.Errorf("%w: group name is required", ErrInvalidInput)
	ErrEmptyMembers     = fmt.Errorf("%w: group needs at least one participant", ErrInvalidInput)
	ErrInvalidImage     = fmt.Errorf("%w: image is not valid base64", ErrInvalidInput)
	ErrImageTooLarge    = fmt.Errorf("%w: image exceeds the maximum size", ErrInvalidInput)
	ErrUnboundSession   = fmt.Errorf("%w: connection is not bound to a user", ErrInvalidInput)
	ErrSenderMismatch   = fmt.Errorf("%w: sender does not match the connected user", ErrInvalidInput)
	ErrUnknownEvent     = fmt.Errorf("%w: unknown event", ErrInvalidInput)
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrInvalidInput)
	ErrNotDirectChat    = fmt.Errorf("%w: chat is not a direct chat", ErrInvalidInput)
	ErrEmailTaken       = fmt.Errorf("%w: email already exists", ErrInvalidInput)

	ErrPairAlreadyExists = fmt.Errorf("direct chat %w", ErrConflict)

	ErrWorkerPanic         = fmt.Errorf("worker panic")
	ErrSessionAlreadyBound = fmt.Errorf("session already bound to another user")
	ErrSinkFull            = fmt.Errorf("sink buffer full")
	ErrSinkClosed          = fmt.Errorf("sink closed")
)

// Code is the error category sent back to the originating session.
type Code string

const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeInternal     Code = "INTERNAL"
)

// CodeOf classifies err. Conflicts never reach clients as such: anything that is
// neither a not-found nor an invalid-input error is reported as internal.
func CodeOf(err error) Code {
	switch {
	case stderrors.Is(err, ErrNotFound):
		return CodeNotFound
	case stderrors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
