// Package service holds the storefront's business rules: sessions, the
// order ledger, payment verification and download gating.  Every failure a
// caller can act on is one of the sentinel errors below, possibly wrapped;
// match with errors.Is.
package service

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateIdentity  = errors.New("login key already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("order is not in a valid state for this operation")
	ErrAlreadyEntitled    = errors.New("already purchased")
	ErrAmountMismatch     = errors.New("payment amount does not match order")
	ErrPaymentRequired    = errors.New("payment required")
	ErrExpired            = errors.New("link expired")
)
