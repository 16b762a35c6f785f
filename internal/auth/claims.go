package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Refresh tokens carry no role; it is looked up again when they are exchanged.
type Claims struct {
	jwt.RegisteredClaims

	OperatorID string    `json:"operator_id"`
	Role       string    `json:"role,omitempty"`
	TokenType  TokenType `json:"token_type"`
}
