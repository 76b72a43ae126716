package bridge

import "errors"

var (
	// ErrSessionNotFound means an operation referenced a session id with
	// no live registration.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRoomCapacityExceeded means a join was rejected because the room
	// is full. The join leaves membership untouched.
	ErrRoomCapacityExceeded = errors.New("room capacity exceeded")

	// ErrRoomAuthRequired means the room requires an authenticated
	// session and the joining session is not authenticated.
	ErrRoomAuthRequired = errors.New("room requires authentication")
)
