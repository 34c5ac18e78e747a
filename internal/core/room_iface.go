package core

import "github.com/dkeye/Meet/internal/domain"

// RoomInfo is a read-only view for diagnostics.
type RoomInfo struct {
	ID               domain.RoomID `json:"roomId"`
	ParticipantCount int           `json:"participantCount"`
}

// Departure describes a connection leaving a room and who is left behind.
type Departure struct {
	Participant domain.Participant
	Remaining   []domain.Participant
	// RoomDeleted is set when the departure emptied the room.
	RoomDeleted bool
}

func (d Departure) Room() domain.RoomID { return d.Participant.RoomID }
