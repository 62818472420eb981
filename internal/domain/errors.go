package domain

import "errors"

// Room and user errors returned by the coordinator. Callers match them with
// errors.Is; details are attached by wrapping.
var (
	ErrInvalidConfig        = errors.New("invalid room config")
	ErrRoomFull             = errors.New("room is full")
	ErrRoomStarted          = errors.New("room already started")
	ErrSpectatingNotAllowed = errors.New("spectating not allowed")
	ErrRoomNotFound         = errors.New("room not found")
	ErrUnknownUser          = errors.New("unknown user")
	ErrAlreadyInRoom        = errors.New("user already in room")
	ErrNotMember            = errors.New("not a room member")
	ErrNotEnoughMembers     = errors.New("not enough members to start")
	ErrInvalidVote          = errors.New("invalid vote")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidConfig, "invalid_config"},
	{ErrRoomFull, "room_full"},
	{ErrRoomStarted, "room_started"},
	{ErrSpectatingNotAllowed, "spectating_not_allowed"},
	{ErrRoomNotFound, "room_not_found"},
	{ErrUnknownUser, "unknown_user"},
	{ErrAlreadyInRoom, "already_in_room"},
	{ErrNotMember, "not_member"},
	{ErrNotEnoughMembers, "not_enough_members"},
	{ErrInvalidVote, "invalid_vote"},
	{ErrUsernameEmpty, "invalid_name"},
	{ErrUsernameTooLong, "invalid_name"},
	{ErrUserIDTooLong, "invalid_name"},
	{ErrRoomNameEmpty, "invalid_name"},
	{ErrRoomNameTooLong, "invalid_name"},
}

// Code maps a known error to its short protocol code, or "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
