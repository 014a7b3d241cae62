package apperror

import "net/http"

// Code identifies an error category independent of transport.
type Code string

const (
	CodeValidation                          Code = "VALIDATION"
	CodeConflict                            Code = "CONFLICT"
	CodePolicyViolation                     Code = "POLICY_VIOLATION"
	CodeInvalidCredentials                  Code = "INVALID_CREDENTIALS"
	CodeAccountLocked                       Code = "ACCOUNT_LOCKED"
	CodePendingDeletionConfirmationRequired Code = "PENDING_DELETION_CONFIRMATION_REQUIRED"
	CodeNotFound                            Code = "NOT_FOUND"
	CodeUpstreamProvider                    Code = "UPSTREAM_PROVIDER"
	CodeUnauthorized                        Code = "UNAUTHORIZED"
	CodeInternal                            Code = "INTERNAL"
)

// HTTPStatus maps the code onto the status used by the JSON API.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeConflict, CodePendingDeletionConfirmationRequired:
		return http.StatusConflict
	case CodePolicyViolation:
		return http.StatusUnprocessableEntity
	case CodeInvalidCredentials, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAccountLocked:
		return http.StatusLocked
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpstreamProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
