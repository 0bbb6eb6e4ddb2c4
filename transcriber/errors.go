package transcriber

import (
	"errors"
	"fmt"
)

// ErrTranscriptionFailed matches every error returned by a Client.
var ErrTranscriptionFailed = errors.New("transcription failed")

type Kind int

const (
	// KindService covers transport failures and non-success responses.
	KindService Kind = iota
	// KindMalformed means the response arrived but lacked the expected shape.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindMalformed:
		return "malformed"
	}
	return "unknown"
}

type Error struct {
	Provider string
	Op       string
	Kind     Kind
	Status   int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrTranscriptionFailed }

func serviceErr(provider, op string, status int, err error) error {
	return &Error{Provider: provider, Op: op, Kind: KindService, Status: status, Err: err}
}

func malformedErr(provider, op string, err error) error {
	return &Error{Provider: provider, Op: op, Kind: KindMalformed, Err: err}
}
