package domain

import "errors"

var (
	// ErrMissingEmail is returned when a request carries no usable email.
	ErrMissingEmail = errors.New("email is required")
	// ErrMissingName is returned when an attempt is recorded without a display name.
	ErrMissingName = errors.New("name is required")
	// ErrParticipantNotFound indicates no record exists for the email.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrNoAttempts indicates a score arrived before any recorded attempt.
	ErrNoAttempts = errors.New("no attempt recorded for this email")
	// ErrQuotaExceeded indicates the daily attempt cap is already used up.
	ErrQuotaExceeded = errors.New("daily attempt limit reached")
	// ErrStoreUnavailable indicates the participant store timed out or the
	// connection failed; callers may retry.
	ErrStoreUnavailable = errors.New("participant store unavailable")
)
