// Package types provides the core data types shared by the custodian engine,
// its remote client and the CLI.
package types

// Session identifies a conversation on the server.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	CreatedAt int64  `json:"createdAt"` // unix millis
}

// LatestSession returns the most recently created session in the list.
func LatestSession(sessions []Session) (Session, bool) {
	if len(sessions) == 0 {
		return Session{}, false
	}
	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.CreatedAt > latest.CreatedAt {
			latest = s
		}
	}
	return latest, true
}

// FindSession returns the session with the given id.
func FindSession(sessions []Session, id string) (Session, bool) {
	for _, s := range sessions {
		if s.ID == id {
			return s, true
		}
	}
	return Session{}, false
}
