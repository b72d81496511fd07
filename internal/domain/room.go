package domain

import "time"

type RoomID string

// Validate rejects ids the relay refuses to track.
func (id RoomID) Validate() error {
	if len(id) == 0 {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}

// Room is the relay-side view of a room. Membership lives in core.RoomService.
type Room struct {
	ID RoomID
}

// RoomRecord is the client-local description of a room, persisted in the
// "rooms" collection. Toggling IsSecure is an ordinary store update.
type RoomRecord struct {
	ID        RoomID    `json:"id"`
	Name      string    `json:"name"`
	IsSecure  bool      `json:"isSecure"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r RoomRecord) RecordID() string { return string(r.ID) }
