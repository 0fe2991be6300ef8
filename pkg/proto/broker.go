package proto

// SessionCreateResponse is returned by the broker when a receiver
// registers a new session.
type SessionCreateResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// SessionJoinResponse is returned by the broker when a sender joins an
// existing session.
type SessionJoinResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents a broker API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
