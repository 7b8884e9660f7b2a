package engine

import "fmt"

// Code names an error surfaced to the initiating client. Policy
// rejections need no retry; the action simply did not apply.
type Code string

const (
	CodeNotHost       Code = "not_host"
	CodeSpectator     Code = "spectator_cannot_vote"
	CodeItemNotActive Code = "item_not_active"
	CodeVotingClosed  Code = "voting_closed"
	CodeNameTaken     Code = "name_taken"
	CodeInvalidCard   Code = "invalid_card"
	CodeBadRequest    Code = "bad_request"
	CodeNotFound      Code = "not_found"
	CodeSessionGone   Code = "session_gone"
	CodeTimerInvalid  Code = "timer_invalid_transition"
	CodeInternal      Code = "internal_error"
)

// Error is a policy or not-found rejection carried to the client as a
// named error code. Infrastructure failures never use this type; they
// are logged and surfaced as a generic connection error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reject(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}
