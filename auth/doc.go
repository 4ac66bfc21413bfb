// Package auth carries the access-token plumbing for backend requests.
//
// The data-access layer never validates tokens itself (the backend
// does); it only needs the token string for Authorization headers and
// the embedded claims for tenant scoping and expiry checks. Sign-in
// and refresh flows live outside this module.
package auth
