package domain

// ConnectionID identifies one live signaling connection. It is minted
// on upgrade and never reused; a reconnect gets a fresh one.
type ConnectionID string

// Participant is a room member as seen by the directory and roster
// broadcasts. Exactly one room owns a participant at a time.
type Participant struct {
	ID      ConnectionID `json:"id"`
	Name    string       `json:"name"`
	IsMuted bool         `json:"isMuted"`
}

// DisplayName derives the label shown for a connection. Not globally
// unique, only meant to be readable.
func DisplayName(id ConnectionID) string {
	s := string(id)
	if len(s) > 4 {
		s = s[:4]
	}
	return "User " + s
}
