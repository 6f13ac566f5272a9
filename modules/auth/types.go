package auth

// ServiceAuthenticate is the request-reply service that verifies handshake credentials.
const ServiceAuthenticate = "authenticate"

// AuthenticateRequest carries a raw bearer token.
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// AuthenticateResponse represents a handshake verdict.
type AuthenticateResponse struct {
	Valid  bool   `json:"valid"`
	UserID uint   `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Error  string `json:"error,omitempty"`
}
