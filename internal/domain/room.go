package domain

// RoomID names a room. Rooms are identified only by what clients send;
// nothing checks them against persisted room records.
type RoomID string

const MaxRoomIDLen = 128
