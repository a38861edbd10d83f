// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const MaxUsernameLen = 36

const DefaultUsername = "guest"

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, username string) (*User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	return &User{ID: id, Username: username}, nil
}

func (u *User) SetUsername(username string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	u.Username = username
	return nil
}

func validateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
