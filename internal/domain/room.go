// Package domain contains entities without logic, just meta-data
// and the naming rules shared by server and client.
package domain

import "strings"

type RoomID string

const MaxRoomNameLen = 64

// Room is the directory entry for one audio room. Participants keep
// join order; a room with no participants does not exist.
type Room struct {
	ID           RoomID        `json:"id"`
	Name         string        `json:"name"`
	Participants []Participant `json:"participants"`
}

// Slug derives the channel key from a human-entered room name:
// lowercased, surrounding whitespace trimmed, inner runs of whitespace
// collapsed to single hyphens. "Jazz Combo" and "jazz combo" collide.
func Slug(name string) RoomID {
	fields := strings.Fields(strings.ToLower(name))
	return RoomID(strings.Join(fields, "-"))
}
