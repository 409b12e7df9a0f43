// Package auth issues and verifies operator tokens for the debug API.
//
// Tokens are HS256-signed JWTs carrying a subject and a scope. They are
// validated by signature and expiry only; there is no revocation list,
// so keep the TTL short and rotate the secret to invalidate everything.
package auth
