package delivery

// Error codes surfaced on the wire. They follow the engine's rejection
// taxonomy: validation failures are terminal for the event, authorization
// failures are logged and change no state, store failures may be retried by
// the client, and transport drops are absorbed silently.
const (
	CodeValidation   = "VALIDATION_FAILED"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeStore        = "STORE_FAILED"
	CodeInvalidEvent = "INVALID_EVENT"
)

// eventError maps an engine-level rejection to an error event for the
// sending session. Fatal errors additionally terminate the session.
type eventError struct {
	code  string
	msg   string
	fatal bool
}

func (e *eventError) Error() string {
	return e.msg
}

func validationError(msg string) *eventError {
	return &eventError{code: CodeValidation, msg: msg}
}

func unauthorizedError(msg string) *eventError {
	return &eventError{code: CodeUnauthorized, msg: msg}
}

func storeError(msg string) *eventError {
	return &eventError{code: CodeStore, msg: msg}
}
