package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the token shape presented by operator UIs when opening a session.
// The hub only verifies these; issuance belongs to the identity service.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Identity is the verified principal behind a session.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Name: c.Name, Role: c.Role}
}
