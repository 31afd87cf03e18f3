package utils

import "fmt"

// TeamChatError is the error type shared across packages. Sentinel values are
// declared in a per-package errors.go and compared with errors.Is; call sites
// attach context with WithDetails.
type TeamChatError struct {
	Msg     string
	Details string
}

func NewTeamChatError(msg string) *TeamChatError {
	return &TeamChatError{Msg: msg}
}

func (e *TeamChatError) Error() string {
	if e.Details == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Details)
}

// WithDetails returns a copy carrying extra context, a string or a wrapped
// error. The receiver is left untouched so package-level sentinels stay
// comparable.
func (e *TeamChatError) WithDetails(details any) *TeamChatError {
	return &TeamChatError{Msg: e.Msg, Details: fmt.Sprint(details)}
}

func (e *TeamChatError) Is(target error) bool {
	t, ok := target.(*TeamChatError)
	if !ok {
		return false
	}
	return e.Msg == t.Msg
}
