package game

import "errors"

// Domain errors returned to callers for user-facing translation.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyJoined = errors.New("player already joined this room")
	ErrAlreadyInRoom = errors.New("player already occupies a room")
	ErrNotMember     = errors.New("player is not a member of this room")
	ErrOrderNotFound = errors.New("order not found")
	ErrNotInRoom     = errors.New("player is not in a room")
	ErrRoomClosed    = errors.New("room session has finished")
	ErrEmptyNote     = errors.New("note text is empty")
	ErrBadCapacity   = errors.New("room capacity out of range")
)

// Infrastructure errors. Both are logged and never fail the triggering operation.
var (
	ErrPersistence = errors.New("persistence failure")
	ErrNotify      = errors.New("notify failure")
)
