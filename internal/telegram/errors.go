package telegram

import "fmt"

// TransportError is a failed Bot API call.
type TransportError struct {
	Method string
	ChatID int64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("telegram %s to %d: %v", e.Method, e.ChatID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
