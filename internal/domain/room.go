package domain

import (
	"errors"
	"strings"
)

const MaxRoomNameLen = 36

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

type RoomName string

// NormalizeRoomName trims surrounding whitespace and lowercases with
// strings.ToLower. No Unicode case folding or locale rules are applied, so
// names that only collide under full folding (e.g. "STRASSE" vs "straße")
// stay distinct.
func NormalizeRoomName(raw string) (RoomName, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(name), nil
}

type RoomStatus string

const (
	StatusOpen    RoomStatus = "open"
	StatusStarted RoomStatus = "started"
)
