package chat

import "time"

// SessionInfo is the bookkeeping view of a session without its transcript.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// Summarize derives SessionInfo from an ordered transcript. A session with
// no turns yet reports the current time for both bounds.
func Summarize(sessionID string, msgs []Message) SessionInfo {
	info := SessionInfo{
		SessionID:    sessionID,
		MessageCount: len(msgs),
	}
	if len(msgs) == 0 {
		now := time.Now()
		info.CreatedAt = now
		info.LastActivity = now
		return info
	}
	info.CreatedAt = msgs[0].Timestamp
	info.LastActivity = msgs[len(msgs)-1].Timestamp
	return info
}
