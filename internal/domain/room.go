package domain

import "errors"

const MaxRoomNameLen = 36

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

type RoomName string

type Room struct {
	ID   RoomID   `json:"id"`
	Name RoomName `json:"name"`
}

func ValidateRoomName(name RoomName) error {
	if len(name) == 0 {
		return ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return ErrRoomNameTooLong
	}
	return nil
}
