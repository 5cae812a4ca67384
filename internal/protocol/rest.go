package protocol

// AnonymousSessionRequest is the body of POST /session/anonymous.
type AnonymousSessionRequest struct {
	DisplayName string `json:"displayName,omitempty"`
}

// AnonymousSessionResponse carries the credential and channel address for a
// freshly issued anonymous session.
type AnonymousSessionResponse struct {
	Token            string `json:"token"`
	WebsocketURL     string `json:"websocketUrl"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
	ConversationID   string `json:"conversationId"`
}

// RegisterRequest is the body of POST /account/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string `json:"token"`
}

// User is returned by GET /me.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// Pong is returned by GET /ping.
type Pong struct {
	Pong string `json:"pong"`
}

// ErrorBody is the structured error payload for non-2xx REST responses,
// including 429 rate-limit rejections.
type ErrorBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}
