package event

import (
	"errors"
	"fmt"
)

// Error codes attached to error envelopes under data.code.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeToolFailed      = "tool_failed"
	CodeInternal        = "internal"
)

// Coder is implemented by errors that know their envelope code.
type Coder interface {
	Code() string
}

// CodeOf returns the envelope code for err.
func CodeOf(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}

// CodedError attaches an envelope code to an error.
type CodedError struct {
	code string
	err  error
}

// WithCode wraps err so that CodeOf reports code.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{code: code, err: err}
}

func (e *CodedError) Error() string { return e.err.Error() }
func (e *CodedError) Unwrap() error { return e.err }
func (e *CodedError) Code() string  { return e.code }

// ErrorData is the data payload of an error envelope.
type ErrorData struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Detailer is implemented by errors that carry diagnostic output, such as
// the captured output of a failed tool run.
type Detailer interface {
	Detail() string
}

// Operation emits the envelopes of one logical request. Exactly one
// terminal envelope is emitted no matter how often Done or Fail are called.
type Operation struct {
	typ      string
	obs      Observer
	finished bool
}

// Begin starts an operation and emits its start envelope.
func Begin(obs Observer, typ, msg string) *Operation {
	if obs == nil {
		obs = Discard
	}
	op := &Operation{typ: typ, obs: obs}
	obs.Emit(Envelope{Type: typ, Status: StatusStart, Msg: msg})
	return op
}

// Type returns the operation type.
func (o *Operation) Type() string { return o.typ }

// Progress emits a run envelope.
func (o *Operation) Progress(msg string, data any) {
	if o.finished {
		return
	}
	o.obs.Emit(Envelope{Type: o.typ, Status: StatusRun, Msg: msg, Data: data})
}

// Done emits the success envelope.
func (o *Operation) Done(msg string, data any) {
	if o.finished {
		return
	}
	o.finished = true
	o.obs.Emit(Envelope{Type: o.typ, Status: StatusDone, Msg: msg, Data: data})
}

// Fail emits the error envelope for err and returns err unchanged.
func (o *Operation) Fail(err error) error {
	if o.finished || err == nil {
		return err
	}
	o.finished = true
	o.obs.Emit(ErrorEnvelope(o.typ, err))
	return err
}

// Finished reports whether a terminal envelope was emitted.
func (o *Operation) Finished() bool { return o.finished }

// ErrorEnvelope builds the error envelope for err.
func ErrorEnvelope(typ string, err error) Envelope {
	data := ErrorData{Code: CodeOf(err)}
	var d Detailer
	if errors.As(err, &d) {
		data.Detail = d.Detail()
	}
	return Envelope{Type: typ, Status: StatusError, Msg: err.Error(), Data: data}
}

// Invalid is a shortcut for an invalid_argument error.
func Invalid(format string, args ...any) error {
	return WithCode(CodeInvalidArgument, fmt.Errorf(format, args...))
}
