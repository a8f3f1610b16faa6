// Package errors provides the tasktracker error taxonomy: a single structured
// error value carrying a Kind discriminant, an HTTP status code, a severity
// level and a user-safe message.
//
// # Kinds
//
// Every Kind has fixed defaults (status, level, message):
//
//   - InternalServerError: 500, critical
//   - IncorrectUsageError: 400, critical
//   - NotFoundError: 404, normal
//   - BadRequestError, VersionMismatchError: 400, normal
//   - UnauthorizedError, PasswordResetRequiredError: 401, normal
//   - NoPermissionError: 403, normal
//   - ValidationError: 422, normal
//   - And more...
//
// Kinds at 5xx or with critical level are operational faults; the rest are
// user-facing.
//
// # Usage
//
// Create an error with the kind defaults:
//
//	err := errors.NotFound()
//
// Override individual fields:
//
//	err := errors.New(errors.KindNotFound, errors.WithMessage("Task not found."))
//
// Wrap a lower-level error. The cause's code and stack are kept:
//
//	if err := ln.Close(); err != nil {
//	    return errors.Wrap(err, errors.KindInternalServer,
//	        errors.WithContext("closing listener"))
//	}
//
// Decoded configuration objects go through FromConfig, which rejects bare
// strings:
//
//	err, usageErr := errors.FromConfig(errors.KindValidation, map[string]any{
//	    "message":  "Title is required.",
//	    "property": "title",
//	})
//
// # JSON Serialization
//
// Errors serialise to their View, which is also what HTTP responses carry:
//
//	data, err := json.Marshal(taskErr)
package errors
