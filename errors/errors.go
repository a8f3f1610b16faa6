package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// Error is the structured, user-safe error used throughout tasktracker.
// Values are immutable once constructed.
type Error struct {
	id           string
	kind         Kind
	errorType    string
	statusCode   int
	level        Level
	message      string
	context      string
	help         string
	code         string
	property     string
	redirect     string
	errorDetails any
	hideStack    bool
	stack        string
	cause        error
}

var (
	_ error          = (*Error)(nil)
	_ json.Marshaler = (*Error)(nil)
)

// Error returns the user-facing message.
func (e *Error) Error() string {
	return e.message
}

// ID returns the unique identifier of this error instance.
func (e *Error) ID() string { return e.id }

// Kind returns the taxonomy kind.
func (e *Error) Kind() Kind { return e.kind }

// ErrorType returns the discriminant name reported to clients.
func (e *Error) ErrorType() string { return e.errorType }

// StatusCode returns the HTTP status code.
func (e *Error) StatusCode() int { return e.statusCode }

// Level returns the severity.
func (e *Error) Level() Level { return e.level }

// Message returns the user-facing message.
func (e *Error) Message() string { return e.message }

// Context returns the diagnostic context, if any.
func (e *Error) Context() string { return e.context }

// Help returns the remediation hint, if any.
func (e *Error) Help() string { return e.help }

// Code returns the system error code, if any.
func (e *Error) Code() string { return e.code }

// Property returns the domain-specific property, if any.
func (e *Error) Property() string { return e.property }

// Redirect returns the redirect URL, if any.
func (e *Error) Redirect() string { return e.redirect }

// ErrorDetails returns the attached details, if any.
func (e *Error) ErrorDetails() any { return e.errorDetails }

// HideStack reports whether the stack must be kept out of responses.
func (e *Error) HideStack() bool { return e.hideStack }

// Stack returns the captured trace followed by the cause's trace.
func (e *Error) Stack() string { return e.stack }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// IsCritical reports whether the error has critical severity.
func (e *Error) IsCritical() bool { return e.level == LevelCritical }

// View is the serialisable form of an Error.
type View struct {
	ID           string `json:"id"`
	ErrorType    string `json:"errorType"`
	StatusCode   int    `json:"statusCode"`
	Level        Level  `json:"level"`
	Message      string `json:"message"`
	Context      string `json:"context,omitempty"`
	Help         string `json:"help,omitempty"`
	Code         string `json:"code,omitempty"`
	Property     string `json:"property,omitempty"`
	Redirect     string `json:"redirect,omitempty"`
	ErrorDetails any    `json:"errorDetails,omitempty"`
	Stack        string `json:"stack,omitempty"`
}

// View returns the serialisable form. The stack is included only when
// includeStack is set and the error does not hide it.
func (e *Error) View(includeStack bool) View {
	v := View{
		ID:           e.id,
		ErrorType:    e.errorType,
		StatusCode:   e.statusCode,
		Level:        e.level,
		Message:      e.message,
		Context:      e.context,
		Help:         e.help,
		Code:         e.code,
		Property:     e.property,
		Redirect:     e.redirect,
		ErrorDetails: e.errorDetails,
	}
	if includeStack && !e.hideStack {
		v.Stack = e.stack
	}
	return v
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.View(true))
}

// Options overrides the per-kind defaults. Zero values keep the default.
type Options struct {
	ID           string `mapstructure:"id"`
	ErrorType    string `mapstructure:"errorType"`
	StatusCode   int    `mapstructure:"statusCode"`
	Level        Level  `mapstructure:"level"`
	Message      string `mapstructure:"message"`
	Context      string `mapstructure:"context"`
	Help         string `mapstructure:"help"`
	Code         string `mapstructure:"code"`
	Property     string `mapstructure:"property"`
	Redirect     string `mapstructure:"redirect"`
	ErrorDetails any    `mapstructure:"errorDetails"`
	HideStack    bool   `mapstructure:"hideStack"`

	// Err is the wrapped lower-level cause. Strings are coerced to errors.
	Err any `mapstructure:"err"`
}

// Option is a functional option for configuring an Error.
type Option func(*Options)

// WithID sets a caller-supplied identifier.
func WithID(id string) Option {
	return func(o *Options) { o.ID = id }
}

// WithErrorType overrides the discriminant name.
func WithErrorType(errorType string) Option {
	return func(o *Options) { o.ErrorType = errorType }
}

// WithStatusCode overrides the HTTP status code.
func WithStatusCode(code int) Option {
	return func(o *Options) { o.StatusCode = code }
}

// WithLevel overrides the severity.
func WithLevel(level Level) Option {
	return func(o *Options) { o.Level = level }
}

// WithMessage overrides the user-facing message.
func WithMessage(message string) Option {
	return func(o *Options) { o.Message = message }
}

// WithMessagef overrides the user-facing message with a formatted string.
func WithMessagef(format string, args ...any) Option {
	return WithMessage(fmt.Sprintf(format, args...))
}

// WithContext sets the diagnostic context.
func WithContext(context string) Option {
	return func(o *Options) { o.Context = context }
}

// WithHelp sets the remediation hint.
func WithHelp(help string) Option {
	return func(o *Options) { o.Help = help }
}

// WithCode sets the system error code.
func WithCode(code string) Option {
	return func(o *Options) { o.Code = code }
}

// WithProperty sets the domain-specific property.
func WithProperty(property string) Option {
	return func(o *Options) { o.Property = property }
}

// WithRedirect sets the redirect URL.
func WithRedirect(redirect string) Option {
	return func(o *Options) { o.Redirect = redirect }
}

// WithErrorDetails attaches arbitrary details.
func WithErrorDetails(details any) Option {
	return func(o *Options) { o.ErrorDetails = details }
}

// WithHideStack keeps the stack out of serialised output.
func WithHideStack(hide bool) Option {
	return func(o *Options) { o.HideStack = hide }
}

// WithCause wraps a lower-level error or error string.
func WithCause(cause any) Option {
	return func(o *Options) { o.Err = cause }
}

// New creates an Error of the given kind. Options override the kind defaults.
func New(kind Kind, opts ...Option) *Error {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return build(kind, o, 4)
}

// build applies o on top of the kind defaults. skip is handed to
// runtime.Callers from captureStack, so 4 starts the trace at the caller of
// the exported constructor.
func build(kind Kind, o Options, skip int) *Error {
	d := kind.defaults()
	e := &Error{
		id:           o.ID,
		kind:         kind,
		errorType:    string(kind),
		statusCode:   d.statusCode,
		level:        d.level,
		message:      d.message,
		context:      o.Context,
		help:         o.Help,
		code:         o.Code,
		property:     o.Property,
		redirect:     o.Redirect,
		errorDetails: o.ErrorDetails,
		hideStack:    o.HideStack,
	}
	if e.id == "" {
		e.id = newID()
	}
	if o.ErrorType != "" {
		e.errorType = o.ErrorType
	}
	if o.StatusCode != 0 {
		e.statusCode = o.StatusCode
	}
	if o.Level != "" {
		e.level = o.Level
	}
	if o.Message != "" {
		e.message = o.Message
	}

	e.stack = captureStack(e.errorType, e.message, skip)

	if o.Err != nil {
		e.mergeCause(coerceCause(o.Err))
	}
	return e
}

// newID returns a time-based UUID, falling back to a random one.
func newID() string {
	if id, err := uuid.NewUUID(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// coerceCause turns a cause value into an error.
func coerceCause(v any) error {
	switch c := v.(type) {
	case error:
		return c
	case string:
		return errors.New(c)
	default:
		return fmt.Errorf("%v", c)
	}
}

// mergeCause copies properties from cause that are not already set.
// errorType, statusCode, message and level always stay with e.
func (e *Error) mergeCause(cause error) {
	e.cause = cause

	var te *Error
	if errors.As(cause, &te) {
		if e.context == "" {
			e.context = te.context
		}
		if e.help == "" {
			e.help = te.help
		}
		if e.property == "" {
			e.property = te.property
		}
		if e.redirect == "" {
			e.redirect = te.redirect
		}
		if e.errorDetails == nil {
			e.errorDetails = te.errorDetails
		}
	}

	if e.code == "" {
		e.code = causeCode(cause)
	}

	e.stack += "\n\n" + causeStack(cause)
}

// causeCode derives a system error code from cause.
func causeCode(cause error) string {
	var coder interface{ Code() string }
	if errors.As(cause, &coder) {
		return coder.Code()
	}
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		return errnoName(errno)
	}
	return ""
}

// causeStack returns the cause's own trace when it carries one.
func causeStack(cause error) string {
	if s, ok := cause.(interface{ Stack() string }); ok {
		return s.Stack()
	}
	return cause.Error()
}

// captureStack renders the caller's stack under a "type: message" header.
func captureStack(errorType, message string, skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	b.WriteString(errorType)
	b.WriteString(": ")
	b.WriteString(message)
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			fmt.Fprintf(&b, "\n\tat %s (%s:%d)", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

// InternalServer creates an InternalServerError.
func InternalServer(opts ...Option) *Error { return New(KindInternalServer, opts...) }

// IncorrectUsage creates an IncorrectUsageError.
func IncorrectUsage(opts ...Option) *Error { return New(KindIncorrectUsage, opts...) }

// NotFound creates a NotFoundError.
func NotFound(opts ...Option) *Error { return New(KindNotFound, opts...) }

// BadRequest creates a BadRequestError.
func BadRequest(opts ...Option) *Error { return New(KindBadRequest, opts...) }

// Unauthorized creates an UnauthorizedError.
func Unauthorized(opts ...Option) *Error { return New(KindUnauthorized, opts...) }

// PasswordResetRequired creates a PasswordResetRequiredError.
func PasswordResetRequired(opts ...Option) *Error {
	return New(KindPasswordResetRequired, opts...)
}

// NoPermission creates a NoPermissionError.
func NoPermission(opts ...Option) *Error { return New(KindNoPermission, opts...) }

// Validation creates a ValidationError.
func Validation(opts ...Option) *Error { return New(KindValidation, opts...) }

// UnsupportedMediaType creates an UnsupportedMediaTypeError.
func UnsupportedMediaType(opts ...Option) *Error {
	return New(KindUnsupportedMediaType, opts...)
}

// TooManyRequests creates a TooManyRequestsError.
func TooManyRequests(opts ...Option) *Error { return New(KindTooManyRequests, opts...) }

// Maintenance creates a MaintenanceError.
func Maintenance(opts ...Option) *Error { return New(KindMaintenance, opts...) }

// MethodNotAllowed creates a MethodNotAllowedError.
func MethodNotAllowed(opts ...Option) *Error { return New(KindMethodNotAllowed, opts...) }

// RequestEntityTooLarge creates a RequestEntityTooLargeError.
func RequestEntityTooLarge(opts ...Option) *Error {
	return New(KindRequestEntityTooLarge, opts...)
}

// TokenRevocation creates a TokenRevocationError.
func TokenRevocation(opts ...Option) *Error { return New(KindTokenRevocation, opts...) }

// VersionMismatch creates a VersionMismatchError.
func VersionMismatch(opts ...Option) *Error { return New(KindVersionMismatch, opts...) }
