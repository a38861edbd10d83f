package app

import "errors"

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrUnknownRoom = errors.New("unknown room")
)
