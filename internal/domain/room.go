package domain

import "strings"

// RoomSeparator joins the two participant ids of a room.
const RoomSeparator = ":"

// ValidParticipant reports whether id can take part in a room. Ids holding
// RoomSeparator would let two different pairs share one room key.
func ValidParticipant(id string) bool {
	return id != "" && !strings.Contains(id, RoomSeparator)
}

// RoomID derives the conversation key for an unordered pair of users.
// RoomID(a, b) == RoomID(b, a) for every input, including a == b.
func RoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + RoomSeparator + b
}

// PeerOf returns the participant of roomID other than userID.
// ok is false when userID is not a participant of roomID.
func PeerOf(roomID, userID string) (peer string, ok bool) {
	if !ValidParticipant(userID) {
		return "", false
	}
	if rest, found := strings.CutPrefix(roomID, userID+RoomSeparator); found && ValidParticipant(rest) && RoomID(userID, rest) == roomID {
		return rest, true
	}
	if rest, found := strings.CutSuffix(roomID, RoomSeparator+userID); found && ValidParticipant(rest) && RoomID(rest, userID) == roomID {
		return rest, true
	}
	return "", false
}
