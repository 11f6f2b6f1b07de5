package state

import "time"

// Exchange is one question-answer pair in a session's history.
type Exchange struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// Session correlates an uploaded document with its question history.
type Session struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Documents []string   `json:"documents,omitempty"`
	History   []Exchange `json:"history,omitempty"`
}

func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// clone returns a deep copy so callers never alias the stored record.
func (s *Session) clone() *Session {
	cp := *s
	cp.Documents = append([]string(nil), s.Documents...)
	cp.History = append([]Exchange(nil), s.History...)
	return &cp
}
