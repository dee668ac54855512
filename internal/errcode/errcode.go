// Package errcode defines the atom error taxonomy (spec §7): a flat integer
// space shared between elements regardless of which language implements
// them, plus a typed Error carrying a code and human-readable string over
// the wire inside Response envelopes.
package errcode

import "fmt"

// Code is a wire error code. 0 means success; 1-99 are reserved for the
// runtime itself, 100-999 for language/runtime-specific conditions, and
// 1000+ for user/handler-defined errors (by adding the handler's own code
// to UserOffset).
type Code int

const (
	NoError            Code = 0
	InternalError      Code = 1
	BrokerError        Code = 2
	CommandNoAck       Code = 3
	CommandNoResponse  Code = 4
	CommandInvalidData Code = 5
	CommandUnsupported Code = 6
	CallbackFailed     Code = 7
)

// UserOffset is added to a handler's own error code before it goes on the
// wire, keeping the user code space (1000+) disjoint from the runtime's.
const UserOffset Code = 1000

// UserCode returns the wire code for a handler-defined error code n.
func UserCode(n int) Code { return UserOffset + Code(n) }

// IsUser reports whether c falls in the user/handler error space.
func (c Code) IsUser() bool { return c >= UserOffset }

// Error is the typed pairing of a wire Code with a descriptive message,
// exactly the (err_code, err_str) pair carried in Response envelopes.
// Acknowledgements carry no error fields.
type Error struct {
	Code Code
	Str  string
}

func (e *Error) Error() string {
	if e.Str == "" {
		return fmt.Sprintf("atom: error code %d", e.Code)
	}
	return fmt.Sprintf("atom: %s (code %d)", e.Str, e.Code)
}

// New constructs an *Error.
func New(code Code, str string) *Error { return &Error{Code: code, Str: str} }

// Internal wraps err as an InternalError.
func Internal(err error) *Error { return New(InternalError, err.Error()) }

// Broker wraps a broker-layer failure as a BrokerError.
func Broker(err error) *Error { return New(BrokerError, err.Error()) }
