package session

import "errors"

// Session registry error types
var (
	ErrUnauthorized     = errors.New("invalid nickname or token")
	ErrExpired          = errors.New("session heartbeat expired")
	ErrDuplicateSession = errors.New("nickname already has a live connection")
	ErrNicknameTaken    = errors.New("nickname is already in use")
	ErrBusy             = errors.New("an upload is already in progress")
	ErrTooLarge         = errors.New("upload exceeds the size limit")
	ErrUnknownNickname  = errors.New("no session for nickname")
	ErrUnknownUpload    = errors.New("no pending upload with that id")
	ErrUnknownChannel   = errors.New("channel 0 cannot be joined")
)
