package errors

// Kind identifies a taxonomy error. Its string value is the errorType
// reported to clients.
type Kind string

// Error kinds.
const (
	KindInternalServer        Kind = "InternalServerError"
	KindIncorrectUsage        Kind = "IncorrectUsageError"
	KindNotFound              Kind = "NotFoundError"
	KindBadRequest            Kind = "BadRequestError"
	KindUnauthorized          Kind = "UnauthorizedError"
	KindPasswordResetRequired Kind = "PasswordResetRequiredError"
	KindNoPermission          Kind = "NoPermissionError"
	KindValidation            Kind = "ValidationError"
	KindUnsupportedMediaType  Kind = "UnsupportedMediaTypeError"
	KindTooManyRequests       Kind = "TooManyRequestsError"
	KindMaintenance           Kind = "MaintenanceError"
	KindMethodNotAllowed      Kind = "MethodNotAllowedError"
	KindRequestEntityTooLarge Kind = "RequestEntityTooLargeError"
	KindTokenRevocation       Kind = "TokenRevocationError"
	KindVersionMismatch       Kind = "VersionMismatchError"
)

// Level is the severity of an error.
type Level string

const (
	// LevelNormal marks user-facing faults.
	LevelNormal Level = "normal"

	// LevelCritical marks operational faults that need attention.
	LevelCritical Level = "critical"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// kindDefaults holds the per-kind status, level and message.
type kindDefaults struct {
	statusCode int
	level      Level
	message    string
}

var defaultsByKind = map[Kind]kindDefaults{
	KindInternalServer:        {500, LevelCritical, "The server has encountered an error."},
	KindIncorrectUsage:        {400, LevelCritical, "We detected a misuse. Please read the stack trace."},
	KindNotFound:              {404, LevelNormal, "Resource could not be found."},
	KindBadRequest:            {400, LevelNormal, "The request could not be understood."},
	KindUnauthorized:          {401, LevelNormal, "You are not authorised to make this request."},
	KindPasswordResetRequired: {401, LevelNormal, `As a security precaution, your password must be reset. Click "Forgot?" to receive an email with instructions.`},
	KindNoPermission:          {403, LevelNormal, "You do not have permission to perform this request."},
	KindValidation:            {422, LevelNormal, "The request failed validation."},
	KindUnsupportedMediaType:  {415, LevelNormal, "The media in the request is not supported by the server."},
	KindTooManyRequests:       {429, LevelNormal, "Server has received too many similar requests in a short space of time."},
	KindMaintenance:           {503, LevelNormal, "The server is temporarily down for maintenance."},
	KindMethodNotAllowed:      {405, LevelNormal, "Method not allowed for resource."},
	KindRequestEntityTooLarge: {413, LevelNormal, "Request was too big for the server to handle."},
	KindTokenRevocation:       {503, LevelNormal, "Token is no longer available."},
	KindVersionMismatch:       {400, LevelNormal, "Requested version does not match server version."},
}

// allKinds lists the taxonomy in declaration order.
var allKinds = []Kind{
	KindInternalServer,
	KindIncorrectUsage,
	KindNotFound,
	KindBadRequest,
	KindUnauthorized,
	KindPasswordResetRequired,
	KindNoPermission,
	KindValidation,
	KindUnsupportedMediaType,
	KindTooManyRequests,
	KindMaintenance,
	KindMethodNotAllowed,
	KindRequestEntityTooLarge,
	KindTokenRevocation,
	KindVersionMismatch,
}

// Kinds returns every known kind.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is part of the taxonomy.
func (k Kind) Valid() bool {
	_, ok := defaultsByKind[k]
	return ok
}

// defaults returns the defaults for k. Unknown kinds get the
// InternalServerError defaults.
func (k Kind) defaults() kindDefaults {
	if d, ok := defaultsByKind[k]; ok {
		return d
	}
	return defaultsByKind[KindInternalServer]
}

// StatusCode returns the default HTTP status for the kind.
func (k Kind) StatusCode() int {
	return k.defaults().statusCode
}

// DefaultLevel returns the default severity for the kind.
func (k Kind) DefaultLevel() Level {
	return k.defaults().level
}

// DefaultMessage returns the default user-facing message for the kind.
func (k Kind) DefaultMessage() string {
	return k.defaults().message
}
