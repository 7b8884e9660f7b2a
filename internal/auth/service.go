package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
)

var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Service issues and verifies the session-scoped tokens presented at
// the WebSocket handshake. Tokens carry identity only; host privileges
// are checked against the durable session record on every privileged
// action.
type Service struct {
	secret   []byte
	tokenTTL time.Duration
}

func NewService(secret string) *Service {
	return &Service{
		secret:   []byte(secret),
		tokenTTL: 24 * time.Hour,
	}
}

// IssueToken signs a token binding a player to a session.
func (s *Service) IssueToken(sessionID, playerID string) (string, error) {
	claims := &model.SessionClaims{
		SessionID: sessionID,
		PlayerID:  playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and verifies a token, returning its claims.
func (s *Service) ValidateToken(tokenString string) (*model.SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*model.SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
