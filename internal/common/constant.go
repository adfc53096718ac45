package common

// AuthorizationHeaderName is the HTTP header that carries the identity
// provider's bearer token.
const AuthorizationHeaderName = "Authorization"

// DefaultAppSalt is the application-scoped salt mixed into every per-user
// key salt. It is not a secret.
const DefaultAppSalt = "arctic-salt"

// OtpDigits is the length of the one-time code that gates a PIN change.
const OtpDigits = 6
