package domain

import "github.com/google/uuid"

// ConnID identifies one signaling connection. It is assigned by the relay
// and does not survive a reconnect.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Participant is a connection's membership in a room.
type Participant struct {
	ConnID      ConnID `json:"connectionId"`
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName"`
	RoomID      RoomID `json:"roomId"`
}

func NewParticipant(conn ConnID, room RoomID, user *User) Participant {
	return Participant{
		ConnID:      conn,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		RoomID:      room,
	}
}
