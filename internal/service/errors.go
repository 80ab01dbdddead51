package service

import "errors"

// State-precondition and token errors are ordinary business outcomes: the
// client recovers from them, they are never logged as faults.
var (
	ErrPaymentNotFound = errors.New("payment not found")

	ErrNotReady            = errors.New("payment not ready for name verification")
	ErrNameNotYetAvailable = errors.New("gateway name not yet available")
	ErrTooManyAttempts     = errors.New("verification attempt limit reached")

	ErrNotAuthorized = errors.New("payment not authorized for download")

	ErrTokenNotFound    = errors.New("download token not found")
	ErrTokenExpired     = errors.New("download token expired")
	ErrTokenAlreadyUsed = errors.New("download token already used")
)
