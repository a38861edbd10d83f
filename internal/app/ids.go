package app

import (
	"sync/atomic"

	"github.com/dkeye/Relay/internal/domain"
)

// IDAllocator mints user and room handles. Handles start at 1.
type IDAllocator struct {
	users atomic.Uint64
	rooms atomic.Uint64
}

func NewIDAllocator() *IDAllocator { return &IDAllocator{} }

func (a *IDAllocator) NextUser() domain.UserID { return domain.UserID(a.users.Add(1)) }

func (a *IDAllocator) NextRoom() domain.RoomID { return domain.RoomID(a.rooms.Add(1)) }
