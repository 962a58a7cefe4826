package api

import (
	"errors"
	"net/http"

	"yacs/internal/auth"
	"yacs/internal/session"
	"yacs/pkg/types"
)

// API error types
var (
	ErrWrongCaptcha   = errors.New("wrong captcha")
	ErrInvalidID      = errors.New("invalid id")
	ErrUnknownAction  = errors.New("action must be 'submit' or 'recall'")
	ErrMissingFile    = errors.New("multipart field 'file' is required")
	ErrInvalidPaging  = errors.New("count and offset must be non-negative integers")
	ErrChannelDenied  = errors.New("channel is not accessible")
	ErrNoSuchResource = errors.New("resource not found")
)

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrWrongPassphrase), errors.Is(err, session.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrWrongCaptcha):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNicknameTaken), errors.Is(err, session.ErrDuplicateSession):
		return http.StatusConflict
	case errors.Is(err, session.ErrExpired):
		return http.StatusGone
	case errors.Is(err, session.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrInvalidNickname), errors.Is(err, types.ErrInvalidChannelName),
		errors.Is(err, session.ErrUnknownUpload), errors.Is(err, session.ErrUnknownNickname),
		errors.Is(err, ErrInvalidID), errors.Is(err, ErrUnknownAction), errors.Is(err, ErrMissingFile),
		errors.Is(err, ErrInvalidPaging):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrStorageFailure):
		// Admin mutations report storage failures as a bad request
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
