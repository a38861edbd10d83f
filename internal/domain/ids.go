package domain

import "strconv"

// UserID identifies a logical client. A client may hold several sessions
// (one per transport) that all carry the same UserID.
// Zero is never minted.
type UserID uint64

// RoomID identifies a room. Only sessions bound to the same RoomID route to each other.
// Zero is never minted.
type RoomID uint64

func (id UserID) String() string { return strconv.FormatUint(uint64(id), 10) }

func (id RoomID) String() string { return strconv.FormatUint(uint64(id), 10) }
