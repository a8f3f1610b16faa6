package errors

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ErrStringOptions is the context attached when FromConfig receives a bare
// string instead of a configuration object.
const ErrStringOptions = "Please instantiate Errors with the option pattern. e.g. errors.New(errors.KindNotFound, errors.WithMessage(...))"

// FromConfig creates an Error from a decoded configuration object. cfg may be
// nil, an Options value or pointer, or a map keyed by the Options field tags.
// A bare string is rejected with an IncorrectUsageError.
func FromConfig(kind Kind, cfg any) (*Error, error) {
	var o Options
	switch c := cfg.(type) {
	case nil:
	case Options:
		o = c
	case *Options:
		if c != nil {
			o = *c
		}
	case string:
		return nil, New(KindIncorrectUsage, WithContext(ErrStringOptions))
	case map[string]any:
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &o,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(c); err != nil {
			return nil, New(KindIncorrectUsage,
				WithContext(fmt.Sprintf("invalid error options: %v", err)),
				WithCause(err))
		}
	default:
		return nil, New(KindIncorrectUsage,
			WithContext(fmt.Sprintf("unsupported error options type %T", cfg)))
	}
	return build(kind, o, 4), nil
}

// Wrap wraps err into an Error of the given kind. If err is nil, Wrap
// returns nil.
func Wrap(err error, kind Kind, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	o.Err = err
	return build(kind, o, 4)
}

// As extracts an Error from an error chain.
// Returns nil if no Error is found.
func As(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return nil
}

// Is checks if any error in the chain is an Error of the given kind.
func Is(err error, kind Kind) bool {
	te := As(err)
	return te != nil && te.kind == kind
}

// StatusCode returns the HTTP status for err. Errors outside the taxonomy
// map to 500.
func StatusCode(err error) int {
	if te := As(err); te != nil {
		return te.statusCode
	}
	return KindInternalServer.StatusCode()
}

// IsCritical reports whether err should be treated as an operational fault.
// Errors outside the taxonomy are critical.
func IsCritical(err error) bool {
	if err == nil {
		return false
	}
	if te := As(err); te != nil {
		return te.IsCritical()
	}
	return true
}

// Ensure converts any error into an Error, wrapping foreign errors as
// InternalServerError. If err is nil, Ensure returns nil.
func Ensure(err error) *Error {
	if err == nil {
		return nil
	}
	if te := As(err); te != nil {
		return te
	}
	return build(KindInternalServer, Options{Err: err}, 4)
}

// RecoverPanic converts a recovered panic value into an InternalServerError.
// The panic value becomes the cause, so it appears in the stack but never in
// the user-facing fields.
func RecoverPanic(recovered any) *Error {
	if recovered == nil {
		return nil
	}
	return build(KindInternalServer, Options{
		Context:      "A panic was recovered.",
		ErrorDetails: fmt.Sprintf("%T", recovered),
		Err:          recovered,
	}, 4)
}

// CodeOf returns the system error code carried by err: its own Code() if it
// has one, else the symbolic name of a wrapped syscall.Errno. Returns "" when
// neither is present.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return causeCode(err)
}
