// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Length limits count characters, not bytes.
const (
	MaxUserIDLen      = 128
	MaxDisplayNameLen = 64
)

var (
	ErrRoomIDEmpty        = errors.New("room id empty")
	ErrRoomIDTooLong      = errors.New("room id too long")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// UserID is asserted by the client at join time and is not verified
// against the auth service.
type UserID string

// User is the identity a connection announces when it joins a room.
type User struct {
	ID          UserID `json:"userId"`
	DisplayName string `json:"displayName"`
}

// NewUser trims and length-checks the client supplied identity.
func NewUser(id, displayName string) (*User, error) {
	id = strings.TrimSpace(id)
	displayName = strings.TrimSpace(displayName)
	if utf8.RuneCountInString(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	if utf8.RuneCountInString(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &User{ID: UserID(id), DisplayName: displayName}, nil
}

func ValidateRoomID(id RoomID) error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrRoomIDEmpty
	}
	if utf8.RuneCountInString(string(id)) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}
