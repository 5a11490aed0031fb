// Package apierr defines the classified error used across the gateway.
//
// Every failure that can reach a client carries an HTTP status and a
// sub-status code. Anything that is not an *Error is classified as an
// unexpected 500 by Classify.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// SubStatusCode narrows an HTTP status to the condition that caused it.
type SubStatusCode string

const (
	BadRequest                               SubStatusCode = "BadRequest"
	InvalidIdentifierField                   SubStatusCode = "InvalidIdentifierField"
	DatabaseInputError                       SubStatusCode = "DatabaseInputError"
	AuthenticationChallenge                  SubStatusCode = "AuthenticationChallenge"
	AuthorizationCheckFailed                 SubStatusCode = "AuthorizationCheckFailed"
	DatabasePolicyFailure                    SubStatusCode = "DatabasePolicyFailure"
	AuthorizationCumulativeColumnCheckFailed SubStatusCode = "AuthorizationCumulativeColumnCheckFailed"
	EntityNotFound                           SubStatusCode = "EntityNotFound"
	ItemNotFound                             SubStatusCode = "ItemNotFound"
	RelationshipNotFound                     SubStatusCode = "RelationshipNotFound"
	DataSourceNotFound                       SubStatusCode = "DataSourceNotFound"
	OpenApiDocumentAlreadyExists             SubStatusCode = "OpenApiDocumentAlreadyExists"
	ConfigAlreadyLoaded                      SubStatusCode = "ConfigAlreadyLoaded"
	NotSupported                             SubStatusCode = "NotSupported"
	GlobalRestEndpointDisabled               SubStatusCode = "GlobalRestEndpointDisabled"
	ConfigValidationError                    SubStatusCode = "ConfigValidationError"
	ErrorInInitialization                    SubStatusCode = "ErrorInInitialization"
	DatabaseOperationFailed                  SubStatusCode = "DatabaseOperationFailed"
	GraphQLMapping                           SubStatusCode = "GraphQLMapping"
	UnexpectedError                          SubStatusCode = "UnexpectedError"
	OpenApiDocumentCreationFailure           SubStatusCode = "OpenApiDocumentCreationFailure"
)

// Messages shared by several packages.
const (
	GenericDBErrorMessage   = "While processing your request the database ran into an error."
	GenericErrorMessage     = "While processing your request the server ran into an unexpected error."
	AuthorizationFailureMsg = "Authorization Failure: Access Not Allowed."
)

var statusBySubStatus = map[SubStatusCode]int{
	BadRequest:                               http.StatusBadRequest,
	InvalidIdentifierField:                   http.StatusBadRequest,
	DatabaseInputError:                       http.StatusBadRequest,
	AuthenticationChallenge:                  http.StatusUnauthorized,
	AuthorizationCheckFailed:                 http.StatusForbidden,
	DatabasePolicyFailure:                    http.StatusForbidden,
	AuthorizationCumulativeColumnCheckFailed: http.StatusForbidden,
	EntityNotFound:                           http.StatusNotFound,
	ItemNotFound:                             http.StatusNotFound,
	RelationshipNotFound:                     http.StatusNotFound,
	DataSourceNotFound:                       http.StatusNotFound,
	OpenApiDocumentAlreadyExists:             http.StatusConflict,
	ConfigAlreadyLoaded:                      http.StatusConflict,
	NotSupported:                             http.StatusNotImplemented,
	GlobalRestEndpointDisabled:               http.StatusNotImplemented,
	ConfigValidationError:                    http.StatusInternalServerError,
	ErrorInInitialization:                    http.StatusInternalServerError,
	DatabaseOperationFailed:                  http.StatusInternalServerError,
	GraphQLMapping:                           http.StatusInternalServerError,
	UnexpectedError:                          http.StatusInternalServerError,
	OpenApiDocumentCreationFailure:           http.StatusInternalServerError,
}

// Error is a failure classified by status and sub-status.
type Error struct {
	Status    int
	SubStatus SubStatusCode
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by sub-status, so sentinel comparisons work
// through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.SubStatus == e.SubStatus && (t.Message == "" || t.Message == e.Message)
}

// New returns an error whose status is derived from the sub-status.
func New(sub SubStatusCode, format string, args ...any) *Error {
	return &Error{Status: StatusFor(sub), SubStatus: sub, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error.
func Wrap(err error, sub SubStatusCode, format string, args ...any) *Error {
	e := New(sub, format, args...)
	e.Err = err
	return e
}

// StatusFor returns the HTTP status for a sub-status. Unknown codes map to 500.
func StatusFor(sub SubStatusCode) int {
	if s, ok := statusBySubStatus[sub]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Classify returns err as an *Error. Unclassified errors become a generic
// UnexpectedError that keeps the cause for logging.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Status:    http.StatusInternalServerError,
		SubStatus: UnexpectedError,
		Message:   GenericErrorMessage,
		Err:       err,
	}
}

// FromCode maps a sub-status name received from an external collaborator
// (for example a GraphQL error extension) back to a classified error.
// Unrecognized codes default to the generic 500 classification.
func FromCode(code, message string) *Error {
	sub := SubStatusCode(code)
	if _, ok := statusBySubStatus[sub]; !ok {
		sub = UnexpectedError
	}
	return &Error{Status: StatusFor(sub), SubStatus: sub, Message: message}
}

// IsSubStatus reports whether err carries the given sub-status.
func IsSubStatus(err error, sub SubStatusCode) bool {
	var e *Error
	return errors.As(err, &e) && e.SubStatus == sub
}

// ClientMessage returns the message safe to show a client. In production
// mode server-side failures are replaced with a generic message.
func (e *Error) ClientMessage(developerMode bool) string {
	if developerMode || e.Status < http.StatusInternalServerError {
		return e.Message
	}
	if e.SubStatus == DatabaseOperationFailed {
		return GenericDBErrorMessage
	}
	if e.SubStatus == UnexpectedError {
		return GenericErrorMessage
	}
	return e.Message
}
