package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Authentication flow errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is not active")
	ErrAccountLocked      = errors.New("account is locked")
	ErrBadSecret          = errors.New("password does not match")
	ErrOTPNotFound        = errors.New("no valid otp")
	ErrOTPExpired         = errors.New("otp expired")
	ErrOTPMismatch        = errors.New("otp mismatch")
	ErrOTPBlocked         = errors.New("otp verification blocked")
	ErrSecretReuse        = errors.New("password was used recently")
	ErrDeliveryFailure    = errors.New("email delivery failed")
)

// AuthFailure pairs a flow error with the message shown to the caller
type AuthFailure struct {
	Err     error
	Message string
}

func (e *AuthFailure) Error() string {
	return e.Message
}

func (e *AuthFailure) Unwrap() error {
	return e.Err
}

// Fail builds an AuthFailure for the given sentinel
func Fail(err error, message string) *AuthFailure {
	return &AuthFailure{Err: err, Message: message}
}

// FailureMessage returns the caller-facing message of err, falling back to a
// generic text for anything that is not an AuthFailure.
func FailureMessage(err error) string {
	var af *AuthFailure
	if errors.As(err, &af) {
		return af.Message
	}
	return "An error occurred during authentication"
}
