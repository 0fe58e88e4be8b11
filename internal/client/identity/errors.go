package identity

import (
	"errors"
	"strings"
)

// ErrorCode classifies identity provider failures.
type ErrorCode string

const (
	CodeUnknown                              ErrorCode = "unknown"
	CodeInvalidCredentials                   ErrorCode = "invalid_credentials"
	CodeAccountDisabled                      ErrorCode = "account_disabled"
	CodeNetworkUnavailable                   ErrorCode = "network_unavailable"
	CodeTooManyAttempts                      ErrorCode = "too_many_attempts"
	CodeEmailAlreadyInUse                    ErrorCode = "email_already_in_use"
	CodeWeakPassword                         ErrorCode = "weak_password"
	CodeInvalidEmail                         ErrorCode = "invalid_email"
	CodeUserNotFound                         ErrorCode = "user_not_found"
	CodeAccountExistsWithDifferentCredential ErrorCode = "account_exists_with_different_credential"
	CodeCredentialAlreadyInUse               ErrorCode = "credential_already_in_use"
	CodeSessionExpired                       ErrorCode = "session_expired"
)

const genericMessage = "An error occurred."

// AuthError is a provider failure with a message safe to show to users.
// ProviderCode keeps the raw provider code for logs.
type AuthError struct {
	Code         ErrorCode
	Message      string
	ProviderCode string
	Err          error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return genericMessage
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches another *AuthError by Code, so the sentinels below work with
// errors.Is regardless of message.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidCredentials                   = &AuthError{Code: CodeInvalidCredentials, Message: "Invalid email or password."}
	ErrAccountDisabled                      = &AuthError{Code: CodeAccountDisabled, Message: "This account has been disabled."}
	ErrNetworkUnavailable                   = &AuthError{Code: CodeNetworkUnavailable, Message: "Network error. Please check your connection."}
	ErrTooManyAttempts                      = &AuthError{Code: CodeTooManyAttempts, Message: "Too many attempts. Please try again later."}
	ErrEmailAlreadyInUse                    = &AuthError{Code: CodeEmailAlreadyInUse, Message: "This email is already registered."}
	ErrWeakPassword                         = &AuthError{Code: CodeWeakPassword, Message: "Password should be at least 6 characters."}
	ErrInvalidEmail                         = &AuthError{Code: CodeInvalidEmail, Message: "Please enter a valid email address."}
	ErrUserNotFound                         = &AuthError{Code: CodeUserNotFound, Message: "No account found with this email."}
	ErrAccountExistsWithDifferentCredential = &AuthError{Code: CodeAccountExistsWithDifferentCredential, Message: "An account already exists with this email using a different sign-in method."}
	ErrCredentialAlreadyInUse               = &AuthError{Code: CodeCredentialAlreadyInUse, Message: "This credential is already associated with another account."}
	ErrSessionExpired                       = &AuthError{Code: CodeSessionExpired, Message: "Your session has expired. Please sign in again."}
)

// operation selects the mapping table; the same provider code can mean
// different things for sign-in and password reset.
type operation int

const (
	opSignIn operation = iota
	opSignUp
	opReset
	opFederated
	opAccount
)

type mapping struct {
	code    ErrorCode
	message string
}

var commonCodes = map[string]mapping{
	"USER_DISABLED":                  {CodeAccountDisabled, "This account has been disabled."},
	"TOO_MANY_ATTEMPTS_TRY_LATER":    {CodeTooManyAttempts, "Too many attempts. Please try again later."},
	"INVALID_EMAIL":                  {CodeInvalidEmail, "Please enter a valid email address."},
	"MISSING_EMAIL":                  {CodeInvalidEmail, "Please enter a valid email address."},
	"OPERATION_NOT_ALLOWED":          {CodeUnknown, "This sign-in method is not enabled."},
	"TOKEN_EXPIRED":                  {CodeSessionExpired, "Your session has expired. Please sign in again."},
	"INVALID_ID_TOKEN":               {CodeSessionExpired, "Your session has expired. Please sign in again."},
	"INVALID_REFRESH_TOKEN":          {CodeSessionExpired, "Your session has expired. Please sign in again."},
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN": {CodeSessionExpired, "Please sign in again to complete this action."},
}

var operationCodes = map[operation]map[string]mapping{
	opSignIn: {
		"EMAIL_NOT_FOUND":           {CodeInvalidCredentials, "No account found with this email."},
		"INVALID_PASSWORD":          {CodeInvalidCredentials, "Incorrect password."},
		"INVALID_LOGIN_CREDENTIALS": {CodeInvalidCredentials, "Invalid email or password."},
		"MISSING_PASSWORD":          {CodeInvalidCredentials, "Invalid email or password."},
	},
	opSignUp: {
		"EMAIL_EXISTS":  {CodeEmailAlreadyInUse, "This email is already registered."},
		"WEAK_PASSWORD": {CodeWeakPassword, "Password should be at least 6 characters."},
	},
	opReset: {
		"EMAIL_NOT_FOUND": {CodeUserNotFound, "No account found with this email."},
	},
	opFederated: {
		"INVALID_IDP_RESPONSE":              {CodeInvalidCredentials, "Invalid Google credential. Please try again."},
		"INVALID_CREDENTIAL_OR_PROVIDER_ID": {CodeInvalidCredentials, "Invalid Google credential. Please try again."},
		"FEDERATED_USER_ID_ALREADY_LINKED":  {CodeCredentialAlreadyInUse, "This credential is already associated with another account."},
		"EMAIL_EXISTS":                      {CodeAccountExistsWithDifferentCredential, "An account already exists with this email using a different sign-in method."},
	},
	opAccount: {
		"USER_NOT_FOUND": {CodeUserNotFound, "No account found for this session."},
	},
}

// mapProviderError turns a raw provider message ("WEAK_PASSWORD : Password
// should be at least 6 characters") into an *AuthError. Unmapped codes keep
// the provider's own text.
func mapProviderError(op operation, raw string) *AuthError {
	code, detail, _ := strings.Cut(raw, ":")
	code = strings.TrimSpace(code)
	detail = strings.TrimSpace(detail)

	if m, ok := operationCodes[op][code]; ok {
		return &AuthError{Code: m.code, Message: m.message, ProviderCode: code}
	}
	if m, ok := commonCodes[code]; ok {
		return &AuthError{Code: m.code, Message: m.message, ProviderCode: code}
	}

	msg := detail
	if msg == "" {
		msg = raw
	}
	if msg == "" {
		msg = genericMessage
	}
	return &AuthError{Code: CodeUnknown, Message: msg, ProviderCode: code}
}

func networkError(err error) *AuthError {
	return &AuthError{Code: CodeNetworkUnavailable, Message: ErrNetworkUnavailable.Message, Err: err}
}

// IsSessionInvalid reports whether err means the provider no longer
// recognises the stored session.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrAccountDisabled) || errors.Is(err, ErrUserNotFound)
}
