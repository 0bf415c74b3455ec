package hostel

import (
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeTransport       = "IDENTITY_PROVIDER_UNREACHABLE"
	TextCodeAuthentication  = "AUTHENTICATION_FAILED"
	TextCodeProfileLookup   = "PROFILE_LOOKUP_FAILED"
	TextCodeProfileNotFound = "PROFILE_NOT_FOUND"
	TextCodeRoleMismatch    = "ROLE_MISMATCH"
	TextCodePending         = "APPROVAL_PENDING"
	TextCodeRejected        = "APPROVAL_REJECTED"
	TextCodeProfileCreation = "PROFILE_CREATION_FAILED"
	TextCodeSignOut         = "SIGN_OUT_FAILED"
	TextCodeInvalidPayload  = "INVALID_PAYLOAD"
	TextCodeRateLimited     = "RATE_LIMITED"
	TextCodeSessionNotFound = "SESSION_NOT_FOUND"
)

// ErrTransport is used when the identity provider cannot be reached. It is
// recovered during initialization and treated as "no session".
var ErrTransport = goerrors.New("identity provider is unreachable", goerrors.CategoryOperation).
	WithTextCode(TextCodeTransport)

// ErrAuthentication covers bad credentials and duplicate identities.
var ErrAuthentication = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthentication).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileLookup is returned when the profile row could not be read.
var ErrProfileLookup = goerrors.New("failed to fetch user profile", goerrors.CategoryInternal).
	WithTextCode(TextCodeProfileLookup)

// ErrProfileNotFound is returned when an authenticated subject has no profile.
var ErrProfileNotFound = goerrors.New("user profile not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrRoleMismatch is returned when the stored role differs from the one used
// to log in.
var ErrRoleMismatch = goerrors.New("account role does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeRoleMismatch).
	WithCode(goerrors.CodeForbidden)

// ErrPendingApproval is returned for non admin accounts awaiting approval.
var ErrPendingApproval = goerrors.New(
	"your account is pending approval, please wait for an administrator to approve your registration",
	goerrors.CategoryAuth,
).
	WithTextCode(TextCodePending).
	WithCode(goerrors.CodeForbidden)

// ErrRejected is returned when an administrator rejected the registration.
var ErrRejected = goerrors.New("your registration has been rejected", goerrors.CategoryAuth).
	WithTextCode(TextCodeRejected).
	WithCode(goerrors.CodeForbidden)

// ErrProfileCreation is returned when the profile row could not be inserted
// during registration.
var ErrProfileCreation = goerrors.New("failed to create user profile", goerrors.CategoryInternal).
	WithTextCode(TextCodeProfileCreation)

// ErrSignOut wraps identity provider sign out failures.
var ErrSignOut = goerrors.New("failed to sign out", goerrors.CategoryOperation).
	WithTextCode(TextCodeSignOut)

// ErrInvalidPayload is returned when login or register input is invalid.
var ErrInvalidPayload = goerrors.New("invalid payload", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidPayload).
	WithCode(goerrors.CodeBadRequest)

// ErrRateLimited is returned by identity backends that throttle requests.
var ErrRateLimited = goerrors.New("too many requests, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited)

// ErrSessionNotFound is returned when an operation needs a session and there
// is none.
var ErrSessionNotFound = goerrors.New("no active session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeUnauthorized)

// IsTransportError reports whether err is an identity provider transport error.
func IsTransportError(err error) bool { return HasTextCode(err, TextCodeTransport) }

// IsAuthenticationError reports whether err is an authentication failure.
func IsAuthenticationError(err error) bool { return HasTextCode(err, TextCodeAuthentication) }

// IsProfileLookupError reports whether err is a profile read failure.
func IsProfileLookupError(err error) bool { return HasTextCode(err, TextCodeProfileLookup) }

// IsProfileNotFound reports whether err signals a missing profile row.
func IsProfileNotFound(err error) bool { return HasTextCode(err, TextCodeProfileNotFound) }

// IsRoleMismatch reports whether err is a role mismatch.
func IsRoleMismatch(err error) bool { return HasTextCode(err, TextCodeRoleMismatch) }

// IsPendingApproval reports whether err is a pending approval rejection.
func IsPendingApproval(err error) bool { return HasTextCode(err, TextCodePending) }

// IsRejected reports whether err is a rejected registration.
func IsRejected(err error) bool { return HasTextCode(err, TextCodeRejected) }

// IsProfileCreationError reports whether err is a profile insert failure.
func IsProfileCreationError(err error) bool { return HasTextCode(err, TextCodeProfileCreation) }

// IsInvalidPayload reports whether err is a payload validation failure.
func IsInvalidPayload(err error) bool { return HasTextCode(err, TextCodeInvalidPayload) }

// HasTextCode reports whether err (or any error it wraps) is a rich error
// carrying code.
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	for richErr != nil {
		if richErr.TextCode == code {
			return true
		}
		var next *goerrors.Error
		if richErr.Source == nil || !goerrors.As(richErr.Source, &next) {
			return false
		}
		richErr = next
	}
	return false
}

// TextCodeOf returns the text code of the outermost rich error in err, or
// "" when there is none.
func TextCodeOf(err error) string {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return ""
	}
	return richErr.TextCode
}

// TransportError wraps a provider failure as ErrTransport.
func TransportError(err error) error {
	return derive(ErrTransport, err, "", nil)
}

func authenticationError(err error) error {
	if HasTextCode(err, TextCodeAuthentication) {
		return err
	}
	message := ErrAuthentication.Message
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		message = richErr.Message
	}
	return derive(ErrAuthentication, err, message, nil)
}

func profileLookupError(subject string, err error) error {
	return derive(ErrProfileLookup, err, "", map[string]any{"subject": subject})
}

func profileNotFoundError(subject string) error {
	return derive(ErrProfileNotFound, nil, "", map[string]any{"subject": subject})
}

func roleMismatchError(asserted Role, stored Role) error {
	message := fmt.Sprintf("invalid credentials for %s login, this account is not registered as a %s", asserted, asserted)
	return derive(ErrRoleMismatch, nil, message, map[string]any{
		"asserted_role": string(asserted),
		"stored_role":   string(stored),
	})
}

func rejectedError(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return derive(ErrRejected, nil, "", nil)
	}
	return derive(ErrRejected, nil, ErrRejected.Message+": "+reason, map[string]any{"reason": reason})
}

func profileCreationError(subject string, err error) error {
	return derive(ErrProfileCreation, err, "", map[string]any{"subject": subject})
}

func signOutError(err error) error {
	return derive(ErrSignOut, err, "", nil)
}

func derive(base *goerrors.Error, source error, message string, metadata map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	if message != "" {
		clone.Message = message
	}
	if source != nil {
		clone.Source = source
	}
	if len(metadata) > 0 {
		return clone.WithMetadata(metadata)
	}
	return clone
}
