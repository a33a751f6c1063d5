// internal/room/errors.go
package room

import "errors"

// Room error kinds. Each maps onto one wire error name; none of them is
// fatal to the room or the session that triggered it.
var (
	ErrRoomExists        = errors.New("a room with this name already exists")
	ErrRoomNotFound      = errors.New("room not found")
	ErrAccessDenied      = errors.New("incorrect room password")
	ErrUserAlreadyJoined = errors.New("a user with this name is already in the room")
	ErrNotJoined         = errors.New("user is not a member of the room")
	ErrNoMedia           = errors.New("no media matched the room filters")
)
