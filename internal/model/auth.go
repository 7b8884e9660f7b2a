package model

import "github.com/golang-jwt/jwt/v5"

// SessionClaims is the JWT payload issued to every participant. Host
// privileges are never embedded here; privileged actions re-check the
// session record's host id against durable storage.
type SessionClaims struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId"`
	jwt.RegisteredClaims
}
