package auth

import (
	"errors"
	"fmt"
	"time"

	"survey-caller/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Manager issues and verifies HS256 operator tokens.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// IssuePair returns an access token carrying role and a role-less refresh token.
func (m *Manager) IssuePair(now time.Time, operatorID, role string) (TokenPair, error) {
	access, err := m.issue(now, TokenTypeAccess, operatorID, role, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := m.issue(now, TokenTypeRefresh, operatorID, "", m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(m.accessTTL.Seconds()),
	}, nil
}

// Verify checks signature, algorithm and time claims against now, then the token type.
// Errors wrap ErrInvalidToken, or the jwt sentinel (e.g. jwt.ErrTokenExpired) for time claims.
func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if err := m.validator(now).Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}

	switch {
	case claims.TokenType != expected:
		return Claims{}, fmt.Errorf("%w: want %s token, got %q", ErrInvalidToken, expected, claims.TokenType)
	case claims.OperatorID == "":
		return Claims{}, fmt.Errorf("%w: operator_id missing", ErrInvalidToken)
	case expected == TokenTypeAccess && claims.Role == "":
		return Claims{}, fmt.Errorf("%w: access token without role", ErrInvalidToken)
	}
	return claims, nil
}

func (m *Manager) validator(now time.Time) *jwt.Validator {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	return jwt.NewValidator(opts...)
}

func (m *Manager) issue(now time.Time, tokenType TokenType, operatorID, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
			Subject:   operatorID,
		},
		OperatorID: operatorID,
		Role:       role,
		TokenType:  tokenType,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
