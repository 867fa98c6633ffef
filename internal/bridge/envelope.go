package bridge

import (
	"encoding/json"

	kerrors "wasmkernel/internal/errors"
)

// Envelope is the tagged success/error response every host call returns
// across the sandbox boundary. The Bridge never aborts the sandbox on a
// domain error; it always returns an Envelope.
type Envelope struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *EnvelopeError  `json:"error,omitempty"`
}

// EnvelopeError carries just enough of the kernel's error type to be
// useful to a plugin: a stable code and a message, never a stack trace or
// internal detail.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success wraps result in a successful envelope.
func Success(result json.RawMessage) Envelope {
	return Envelope{Ok: true, Result: result}
}

// Failure wraps err in a failed envelope, translating it into the stable
// code/message pair the caller is permitted to see.
func Failure(err error) Envelope {
	if e, ok := kerrors.From(err); ok {
		return Envelope{Ok: false, Error: &EnvelopeError{Code: string(e.Code()), Message: e.Message()}}
	}
	return Envelope{Ok: false, Error: &EnvelopeError{Code: string(kerrors.CodeUnknown), Message: err.Error()}}
}

// Marshal encodes the envelope, never failing observably: a marshal error
// degrades to a generic failure envelope instead of propagating.
func Marshal(e Envelope) []byte {
	out, err := json.Marshal(e)
	if err != nil {
		out, _ = json.Marshal(Failure(err))
	}
	return out
}
